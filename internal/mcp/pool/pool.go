// Package pool implements the MCP connection pool: per-server
// connection lifecycles, lease-based acquisition, load-balancing
// strategy selection, idle reaping, and circuit breaking, as the
// hardest subsystem in the engine. Connections are opened only on
// demand by GetConnection; the pool does not reopen connections in the
// background when a server falls below MinIdle.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/flowcoreio/enginecore/internal/mcp/transport"
	"github.com/flowcoreio/enginecore/pkg/breaker"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// Strategy selects which live connection to hand out on acquisition.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyHealthBased      Strategy = "health_based"
	StrategyRandom           Strategy = "random"
)

// ServerSpec configures one pooled upstream MCP server.
type ServerSpec struct {
	ServerID       string
	NewTransport   func(sink transport.EventSink) transport.Transport
	MaxConnections int
	MinIdle        int
	IdleTimeout    time.Duration
	Strategy       Strategy
	Breaker        breaker.Settings
}

type conn struct {
	id          string
	transport   transport.Transport
	inFlight    int
	lastUsed    time.Time
	healthy     bool
	createdAt   time.Time
}

type serverState struct {
	spec     ServerSpec
	mu       sync.RWMutex
	conns    map[string]*conn
	order    []string // stable connection id order, for round-robin
	breaker  *breaker.Breaker
	sem      *semaphore.Weighted
	rrCursor int
	stop     chan struct{}
	metrics  *serverMetrics
}

type serverMetrics struct {
	totalConnections prometheus.Gauge
	activeLeases     prometheus.Gauge
	circuitOpen      prometheus.Gauge
}

// Pool holds one serverState per registered server_id.
type Pool struct {
	mu      sync.RWMutex
	servers map[string]*serverState
}

// New constructs an empty Pool.
func New() *Pool {
	return &Pool{servers: make(map[string]*serverState)}
}

// RegisterServer adds a server to the pool and starts its idle-reaper
// goroutine. No periodic health check runs against pooled connections.
func (p *Pool) RegisterServer(spec ServerSpec) error {
	if spec.MaxConnections <= 0 {
		return flowerrors.NewConfiguration("mcp.pool", "max_connections must be positive")
	}

	st := &serverState{
		spec:     spec,
		conns:    make(map[string]*conn),
		sem:      semaphore.NewWeighted(int64(spec.MaxConnections)),
		rrCursor: -1,
		stop:     make(chan struct{}),
		metrics: &serverMetrics{
			totalConnections: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "mcp_pool_total_connections",
				Help:        "Live connections held by the pool for a server.",
				ConstLabels: prometheus.Labels{"server_id": spec.ServerID},
			}),
			activeLeases: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "mcp_pool_active_leases",
				Help:        "Leases currently checked out for a server.",
				ConstLabels: prometheus.Labels{"server_id": spec.ServerID},
			}),
			circuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:        "mcp_pool_circuit_open",
				Help:        "1 if the server's circuit breaker is open.",
				ConstLabels: prometheus.Labels{"server_id": spec.ServerID},
			}),
		},
	}

	settings := spec.Breaker
	settings.Name = spec.ServerID
	settings.OnStateChange = func(name string, from, to breaker.State) {
		logging.Warn("mcp.pool", "server %s breaker %s -> %s", name, from, to)
		if to == breaker.StateOpen {
			st.metrics.circuitOpen.Set(1)
		} else {
			st.metrics.circuitOpen.Set(0)
		}
	}
	st.breaker = breaker.New(settings)

	p.mu.Lock()
	p.servers[spec.ServerID] = st
	p.mu.Unlock()

	go p.idleReapLoop(st)
	return nil
}

// Lease is a RAII-style handle on a leased connection. Callers must call
// Release when done.
type Lease struct {
	pool     *Pool
	serverID string
	conn     *conn
	released bool
	mu       sync.Mutex
}

// Transport exposes the underlying transport for issuing a request.
func (l *Lease) Transport() transport.Transport {
	return l.conn.transport
}

// Release returns the connection to the pool, decrementing its in-flight
// count and stamping last_used.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	l.pool.mu.RLock()
	st, ok := l.pool.servers[l.serverID]
	l.pool.mu.RUnlock()
	if !ok {
		return
	}

	st.mu.Lock()
	l.conn.inFlight--
	l.conn.lastUsed = time.Now()
	st.mu.Unlock()
	st.metrics.activeLeases.Dec()
}

// GetConnection implements the acquisition protocol: fail fast if the
// server's circuit breaker is open; otherwise grow the pool under the
// semaphore while there's room, itself gated by the breaker; once at
// MaxConnections, round-robin (or by strategy) across healthy existing
// connections; if the pool is at capacity and nothing healthy is left,
// block for a permit, which is freed only when a connection is removed
// (by the idle reaper or Shutdown), not when a lease is released.
func (p *Pool) GetConnection(ctx context.Context, serverID string) (*Lease, error) {
	p.mu.RLock()
	st, ok := p.servers[serverID]
	p.mu.RUnlock()
	if !ok {
		return nil, flowerrors.NewNotFound("mcp.pool", fmt.Sprintf("server %q not registered", serverID))
	}

	if st.breaker.State() == breaker.StateOpen {
		return nil, flowerrors.NewCircuitOpen("mcp.pool", fmt.Sprintf("server %q circuit is open", serverID))
	}

	if st.sem.TryAcquire(1) {
		c, err := st.createUnderBreaker(ctx)
		if err != nil {
			st.sem.Release(1)
			if existing := st.selectExisting(); existing != nil {
				return &Lease{pool: p, serverID: serverID, conn: existing}, nil
			}
			return nil, err
		}
		return &Lease{pool: p, serverID: serverID, conn: c}, nil
	}

	if c := st.selectExisting(); c != nil {
		return &Lease{pool: p, serverID: serverID, conn: c}, nil
	}

	if err := st.sem.Acquire(ctx, 1); err != nil {
		return nil, flowerrors.NewTimeout("mcp.pool", "waiting for pool capacity", err)
	}
	c, err := st.createUnderBreaker(ctx)
	if err != nil {
		st.sem.Release(1)
		return nil, err
	}
	return &Lease{pool: p, serverID: serverID, conn: c}, nil
}

// createUnderBreaker creates a new connection through the server's
// breaker and accounts for it in the pool's metrics. Callers must hold
// (or have just acquired) a semaphore permit and release it on error.
func (st *serverState) createUnderBreaker(ctx context.Context) (*conn, error) {
	result, err := st.breaker.Call(ctx, func(ctx context.Context) (any, error) {
		return st.createConnection(ctx)
	})
	if err != nil {
		return nil, err
	}
	c := result.(*conn)
	st.metrics.totalConnections.Inc()
	st.metrics.activeLeases.Inc()
	return c, nil
}

func (st *serverState) selectExisting() *conn {
	st.mu.Lock()
	defer st.mu.Unlock()

	candidates := make([]*conn, 0, len(st.order))
	for _, id := range st.order {
		c, ok := st.conns[id]
		if !ok || !c.healthy {
			continue
		}
		if time.Since(c.lastUsed) > st.spec.IdleTimeout && st.spec.IdleTimeout > 0 {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	var chosen *conn
	switch st.spec.Strategy {
	case StrategyLeastConnections:
		for _, c := range candidates {
			if chosen == nil || c.inFlight < chosen.inFlight {
				chosen = c
			}
		}
	case StrategyHealthBased:
		chosen = candidates[0]
	case StrategyRandom:
		chosen = candidates[time.Now().UnixNano()%int64(len(candidates))]
	default: // round robin, stable over st.order rather than map iteration
		st.rrCursor = (st.rrCursor + 1) % len(candidates)
		chosen = candidates[st.rrCursor]
	}

	chosen.inFlight++
	st.metrics.activeLeases.Inc()
	return chosen
}

func (st *serverState) createConnection(ctx context.Context) (*conn, error) {
	id := uuid.NewString()
	tr := st.spec.NewTransport(func(serverID string, transition transport.Transition, err error) {
		logging.Debug("mcp.pool", "server %s connection %s transition=%s err=%v", serverID, id, transition, err)
	})

	if err := tr.Connect(ctx); err != nil {
		return nil, err
	}

	c := &conn{id: id, transport: tr, healthy: true, createdAt: time.Now(), lastUsed: time.Now(), inFlight: 1}

	st.mu.Lock()
	st.conns[id] = c
	st.order = append(st.order, id)
	st.mu.Unlock()

	return c, nil
}

// removeConn deletes id from st.conns/st.order and releases its
// semaphore permit. Callers must not hold st.mu.
func (st *serverState) removeConn(id string) {
	st.mu.Lock()
	if _, ok := st.conns[id]; !ok {
		st.mu.Unlock()
		return
	}
	delete(st.conns, id)
	for i, existing := range st.order {
		if existing == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	st.mu.Unlock()
	st.sem.Release(1)
}

func (p *Pool) idleReapLoop(st *serverState) {
	if st.spec.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(st.spec.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.reapIdle()
		}
	}
}

func (st *serverState) reapIdle() {
	st.mu.Lock()
	minIdle := st.spec.MinIdle
	var toReap []*conn
	for _, c := range st.conns {
		if len(st.conns)-len(toReap) <= minIdle {
			break
		}
		if c.inFlight == 0 && time.Since(c.lastUsed) > st.spec.IdleTimeout {
			toReap = append(toReap, c)
		}
	}
	st.mu.Unlock()

	for _, c := range toReap {
		_ = c.transport.Disconnect(context.Background())
		st.removeConn(c.id)
		st.metrics.totalConnections.Dec()
	}
}

// Shutdown stops background loops and closes every connection for every
// registered server.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.RLock()
	servers := make([]*serverState, 0, len(p.servers))
	for _, st := range p.servers {
		servers = append(servers, st)
	}
	p.mu.RUnlock()

	for _, st := range servers {
		close(st.stop)
		st.mu.Lock()
		conns := make([]*conn, 0, len(st.conns))
		for _, c := range st.conns {
			conns = append(conns, c)
		}
		st.mu.Unlock()

		for _, c := range conns {
			_ = c.transport.Disconnect(ctx)
			st.removeConn(c.id)
		}
	}
}

// Metrics reports a point-in-time snapshot for serverID.
type Metrics struct {
	TotalConnections int
	ActiveLeases     int
	CircuitState     breaker.State
}

func (p *Pool) Metrics(serverID string) (Metrics, error) {
	p.mu.RLock()
	st, ok := p.servers[serverID]
	p.mu.RUnlock()
	if !ok {
		return Metrics{}, flowerrors.NewNotFound("mcp.pool", fmt.Sprintf("server %q not registered", serverID))
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	active := 0
	for _, c := range st.conns {
		active += c.inFlight
	}
	return Metrics{
		TotalConnections: len(st.conns),
		ActiveLeases:     active,
		CircuitState:     st.breaker.State(),
	}, nil
}
