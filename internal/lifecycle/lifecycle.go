// Package lifecycle implements the service lifecycle substrate:
// dependency-ordered startup and shutdown via Kahn's algorithm, a state
// machine per managed service, and lifecycle hooks around each
// transition.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowcoreio/enginecore/internal/registry"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// State is a managed service's position in its lifecycle state machine.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// DefaultHookTimeout bounds how long any single lifecycle hook may run.
const DefaultHookTimeout = 30 * time.Second

// Hooks are optional callbacks run around a service's state transitions.
type Hooks struct {
	PreStart  func(ctx context.Context) error
	PostStart func(ctx context.Context) error
	PreStop   func(ctx context.Context) error
	PostStop  func(ctx context.Context) error
	OnFailure func(ctx context.Context, err error)
}

// Config declares one managed service: how to start/stop it, which
// other services it depends on, and what capabilities it requires from
// them.
type Config struct {
	Name                 string
	Dependencies         []string
	RequiredCapabilities map[string][]string // dependency name -> required capabilities
	Hooks                Hooks
	Start                func(ctx context.Context) error
	Stop                 func(ctx context.Context) error
}

type managedService struct {
	cfg   Config
	mu    sync.RWMutex
	state State
	err   error
}

// Manager owns a set of managed services and brings them up or down in
// dependency order.
type Manager struct {
	mu       sync.RWMutex
	services map[string]*managedService
	registry registry.Registry
}

func New(reg registry.Registry) *Manager {
	return &Manager{services: make(map[string]*managedService), registry: reg}
}

// Add registers a service with the manager in StateUninitialized.
func (m *Manager) Add(cfg Config) error {
	if cfg.Name == "" {
		return flowerrors.NewConfiguration("lifecycle", "service name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.services[cfg.Name]; exists {
		return flowerrors.NewConfiguration("lifecycle", "service "+cfg.Name+" already registered")
	}
	m.services[cfg.Name] = &managedService{cfg: cfg, state: StateUninitialized}
	return nil
}

// State returns the current state of a registered service.
func (m *Manager) State(name string) (State, error) {
	m.mu.RLock()
	svc, ok := m.services[name]
	m.mu.RUnlock()
	if !ok {
		return "", flowerrors.NewNotFound("lifecycle", "service "+name+" not registered")
	}
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return svc.state, nil
}

// StartAll starts every registered service in dependency order,
// computed via Kahn's algorithm. A residual in-degree after the queue
// drains indicates a circular dependency.
func (m *Manager) StartAll(ctx context.Context) error {
	order, err := m.topologicalOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		if err := m.startOne(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every registered service in the reverse of startup
// order.
func (m *Manager) StopAll(ctx context.Context) error {
	order, err := m.topologicalOrder()
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopOne(ctx, order[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) topologicalOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inDegree := make(map[string]int, len(m.services))
	dependents := make(map[string][]string)

	for name, svc := range m.services {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range svc.cfg.Dependencies {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(m.services) {
		return nil, flowerrors.NewConfiguration("lifecycle", "circular dependency detected among registered services")
	}
	return order, nil
}

func (m *Manager) startOne(ctx context.Context, name string) error {
	m.mu.RLock()
	svc := m.services[name]
	m.mu.RUnlock()

	if err := m.checkDependencies(svc); err != nil {
		m.setState(svc, StateFailed, err)
		return err
	}

	m.setState(svc, StateStarting, nil)

	if err := runHook(ctx, svc.cfg.Hooks.PreStart); err != nil {
		return m.fail(ctx, svc, err)
	}
	if svc.cfg.Start != nil {
		if err := svc.cfg.Start(ctx); err != nil {
			return m.fail(ctx, svc, err)
		}
	}
	if err := runHook(ctx, svc.cfg.Hooks.PostStart); err != nil {
		return m.fail(ctx, svc, err)
	}

	m.setState(svc, StateRunning, nil)
	logging.Info("lifecycle", "service %s is running", name)
	return nil
}

func (m *Manager) stopOne(ctx context.Context, name string) error {
	m.mu.RLock()
	svc := m.services[name]
	m.mu.RUnlock()

	svc.mu.RLock()
	current := svc.state
	svc.mu.RUnlock()
	if current != StateRunning {
		return nil
	}

	m.setState(svc, StateStopping, nil)

	if err := runHook(ctx, svc.cfg.Hooks.PreStop); err != nil {
		return m.fail(ctx, svc, err)
	}
	if svc.cfg.Stop != nil {
		if err := svc.cfg.Stop(ctx); err != nil {
			return m.fail(ctx, svc, err)
		}
	}
	if err := runHook(ctx, svc.cfg.Hooks.PostStop); err != nil {
		return m.fail(ctx, svc, err)
	}

	m.setState(svc, StateStopped, nil)
	logging.Info("lifecycle", "service %s is stopped", name)
	return nil
}

func (m *Manager) checkDependencies(svc *managedService) error {
	for _, dep := range svc.cfg.Dependencies {
		depState, err := m.State(dep)
		if err != nil {
			return err
		}
		if depState != StateRunning {
			return flowerrors.NewConfiguration("lifecycle", fmt.Sprintf("dependency %s of %s is not running", dep, svc.cfg.Name))
		}
		if m.registry != nil {
			instances := m.registry.GetInstances(dep)
			if len(instances) == 0 {
				return flowerrors.NewConfiguration("lifecycle", fmt.Sprintf("dependency %s of %s has no discovered instances", dep, svc.cfg.Name))
			}
			if required, ok := svc.cfg.RequiredCapabilities[dep]; ok {
				if !anyInstanceOffers(instances, required) {
					return flowerrors.NewConfiguration("lifecycle", fmt.Sprintf("dependency %s of %s lacks required capabilities %v", dep, svc.cfg.Name, required))
				}
			}
		}
	}
	return nil
}

func anyInstanceOffers(instances []registry.ServiceInstance, required []string) bool {
	for _, inst := range instances {
		offered := make(map[string]bool, len(inst.Capabilities))
		for _, c := range inst.Capabilities {
			offered[c] = true
		}
		all := true
		for _, r := range required {
			if !offered[r] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (m *Manager) fail(ctx context.Context, svc *managedService, err error) error {
	m.setState(svc, StateFailed, err)
	if svc.cfg.Hooks.OnFailure != nil {
		svc.cfg.Hooks.OnFailure(ctx, err)
	}
	logging.Error("lifecycle", err, "service %s failed", svc.cfg.Name)
	return err
}

func (m *Manager) setState(svc *managedService, state State, err error) {
	svc.mu.Lock()
	svc.state = state
	svc.err = err
	svc.mu.Unlock()
}

func runHook(ctx context.Context, hook func(ctx context.Context) error) error {
	if hook == nil {
		return nil
	}
	hookCtx, cancel := context.WithTimeout(ctx, DefaultHookTimeout)
	defer cancel()
	return hook(hookCtx)
}
