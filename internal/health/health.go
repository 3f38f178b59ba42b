// Package health implements the health monitor: periodic checks against
// registered service instances, a bounded result history per instance,
// and recovery handling triggered by consecutive failures.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/flowcoreio/enginecore/internal/registry"
	"github.com/flowcoreio/enginecore/pkg/breaker"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// Result is the outcome of a single health check. Status carries the
// full registry.HealthStatus classification (Healthy, Degraded, or
// Unhealthy) rather than a plain pass/fail bit, so a strategy can
// report a service that's up but impaired.
type Result struct {
	Status    registry.HealthStatus
	Latency   time.Duration
	Message   string
	CheckedAt time.Time
}

// Strategy performs the actual probe against an instance. Different
// service kinds (HTTP, stdio MCP server, TCP) implement their own.
type Strategy interface {
	Check(ctx context.Context, instance registry.ServiceInstance) (Result, error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ctx context.Context, instance registry.ServiceInstance) (Result, error)

func (f StrategyFunc) Check(ctx context.Context, instance registry.ServiceInstance) (Result, error) {
	return f(ctx, instance)
}

// historySize bounds the per-instance ring buffer of past results.
const historySize = 100

// RecoveryHandler is invoked once an instance has accumulated
// ConsecutiveFailureThreshold consecutive failures.
type RecoveryHandler func(ctx context.Context, instance registry.ServiceInstance)

// DefaultConsecutiveFailureThreshold is how many consecutive failed
// checks trigger the recovery handler.
const DefaultConsecutiveFailureThreshold = 3

type instanceState struct {
	mu                  sync.Mutex
	history             []Result
	consecutiveFailures int
	breaker             *breaker.Breaker
}

func (s *instanceState) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, r)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	if r.Status == registry.HealthUnhealthy {
		s.consecutiveFailures++
	} else {
		s.consecutiveFailures = 0
	}
}

func (s *instanceState) History() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.history))
	copy(out, s.history)
	return out
}

func (s *instanceState) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// Monitor periodically checks every instance discoverable through its
// registry, using a per-service Strategy, and pushes the resulting
// status back into the registry.
type Monitor struct {
	reg        registry.Registry
	strategies map[string]Strategy
	interval   time.Duration
	threshold  int
	recovery   RecoveryHandler

	mu     sync.Mutex
	states map[string]*instanceState
}

// Config configures a Monitor.
type Config struct {
	Interval                    time.Duration
	ConsecutiveFailureThreshold int
	Recovery                    RecoveryHandler
}

func New(reg registry.Registry, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.ConsecutiveFailureThreshold <= 0 {
		cfg.ConsecutiveFailureThreshold = DefaultConsecutiveFailureThreshold
	}
	if cfg.Recovery == nil {
		cfg.Recovery = func(ctx context.Context, instance registry.ServiceInstance) {
			logging.Warn("health", "instance %s (%s) exceeded consecutive failure threshold", instance.ID, instance.Name)
		}
	}
	return &Monitor{
		reg:        reg,
		strategies: make(map[string]Strategy),
		interval:   cfg.Interval,
		threshold:  cfg.ConsecutiveFailureThreshold,
		recovery:   cfg.Recovery,
		states:     make(map[string]*instanceState),
	}
}

// RegisterStrategy binds a health-check Strategy to all instances of
// serviceName.
func (m *Monitor) RegisterStrategy(serviceName string, strategy Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[serviceName] = strategy
}

// Run checks every known instance once per interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	for _, inst := range m.reg.List() {
		m.mu.Lock()
		strategy, ok := m.strategies[inst.Name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		go m.checkOne(ctx, inst, strategy)
	}
}

func (m *Monitor) checkOne(ctx context.Context, inst registry.ServiceInstance, strategy Strategy) {
	state := m.stateFor(inst.ID)

	result, err := state.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		r, checkErr := strategy.Check(ctx, inst)
		if checkErr != nil {
			return r, checkErr
		}
		// Degraded doesn't trip the breaker: the instance is still
		// serving, just impaired. Only Unhealthy counts as a failure.
		if r.Status == registry.HealthUnhealthy {
			return r, errUnhealthy
		}
		return r, nil
	})

	var r Result
	if result != nil {
		r, _ = result.(Result)
	}
	if err != nil && r.CheckedAt.IsZero() {
		r = Result{Status: registry.HealthUnhealthy, Message: err.Error(), CheckedAt: time.Now()}
	}
	if r.Status == "" {
		r.Status = registry.HealthUnknown
	}

	state.record(r)

	if updateErr := m.reg.UpdateHealth(inst.ID, r.Status); updateErr != nil {
		logging.Debug("health", "updating health for %s: %v", inst.ID, updateErr)
	}

	if state.Failures() >= m.threshold {
		m.recovery(ctx, inst)
	}
}

func (m *Monitor) stateFor(instanceID string) *instanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[instanceID]; ok {
		return s
	}
	s := &instanceState{
		breaker: breaker.New(breaker.Settings{
			Name:             "health." + instanceID,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			Window:           60 * time.Second,
		}),
	}
	m.states[instanceID] = s
	return s
}

// History returns the bounded result history recorded for instanceID.
func (m *Monitor) History(instanceID string) []Result {
	m.mu.Lock()
	s, ok := m.states[instanceID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.History()
}

var errUnhealthy = healthError("health check reported unhealthy")

type healthError string

func (e healthError) Error() string { return string(e) }
