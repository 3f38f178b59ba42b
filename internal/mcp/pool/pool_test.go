package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/mcp/transport"
	"github.com/flowcoreio/enginecore/pkg/breaker"
)

type stubTransport struct {
	connectCalls int32
	failConnect  bool
	healthy      bool
}

func (s *stubTransport) Connect(ctx context.Context) error {
	atomic.AddInt32(&s.connectCalls, 1)
	if s.failConnect {
		return assertError("connect failed")
	}
	s.healthy = true
	return nil
}

func (s *stubTransport) SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (s *stubTransport) Disconnect(ctx context.Context) error {
	s.healthy = false
	return nil
}

func (s *stubTransport) Healthy() bool { return s.healthy }

type assertError string

func (e assertError) Error() string { return string(e) }

func newTestSpec(serverID string, fail bool) ServerSpec {
	return ServerSpec{
		ServerID:       serverID,
		MaxConnections: 2,
		MinIdle:        0,
		IdleTimeout:    0,
		Strategy:       StrategyRoundRobin,
		Breaker:        breaker.Settings{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second, Window: time.Second},
		NewTransport: func(sink transport.EventSink) transport.Transport {
			return &stubTransport{failConnect: fail}
		},
	}
}

func TestGetConnectionCreatesAndReusesConnection(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterServer(newTestSpec("srv-1", false)))

	lease, err := p.GetConnection(context.Background(), "srv-1")
	require.NoError(t, err)
	require.NotNil(t, lease.Transport())
	lease.Release()

	metrics, err := p.Metrics("srv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalConnections)
}

func TestGetConnectionUnknownServerFails(t *testing.T) {
	p := New()
	_, err := p.GetConnection(context.Background(), "nope")
	assert.Error(t, err)
}

func TestGetConnectionPropagatesTransportFailure(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterServer(newTestSpec("srv-fail", true)))

	_, err := p.GetConnection(context.Background(), "srv-fail")
	assert.Error(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterServer(newTestSpec("srv-1", false)))

	lease, err := p.GetConnection(context.Background(), "srv-1")
	require.NoError(t, err)
	lease.Release()
	assert.NotPanics(t, func() { lease.Release() })
}

func TestRegisterServerRejectsNonPositiveMaxConnections(t *testing.T) {
	p := New()
	spec := newTestSpec("srv-1", false)
	spec.MaxConnections = 0
	assert.Error(t, p.RegisterServer(spec))
}

// TestGetConnectionRoundRobinsDeterministically exercises the scenario
// where three leases acquired in succession must each land on a
// distinct connection, and a fourth must wrap back to the first. It
// would have flaked under map-order iteration of st.conns.
func TestGetConnectionRoundRobinsDeterministically(t *testing.T) {
	p := New()
	spec := newTestSpec("srv-rr", false)
	spec.MaxConnections = 3
	require.NoError(t, p.RegisterServer(spec))

	first, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	second, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	third, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)

	assert.NotSame(t, first.Transport(), second.Transport())
	assert.NotSame(t, second.Transport(), third.Transport())
	assert.NotSame(t, first.Transport(), third.Transport())

	first.Release()
	second.Release()
	third.Release()

	fourth, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	assert.Same(t, first.Transport(), fourth.Transport())

	fifth, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	assert.Same(t, second.Transport(), fifth.Transport())

	sixth, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	assert.Same(t, third.Transport(), sixth.Transport())

	seventh, err := p.GetConnection(context.Background(), "srv-rr")
	require.NoError(t, err)
	assert.Same(t, first.Transport(), seventh.Transport())
}

// TestGetConnectionFailsFastWhenBreakerOpen verifies that once the
// breaker trips open, acquisition fails immediately without attempting
// a new connection, even though earlier attempts left the pool warm
// enough in principle to serve from selectExisting.
func TestGetConnectionFailsFastWhenBreakerOpen(t *testing.T) {
	p := New()
	var connectAttempts int32
	spec := ServerSpec{
		ServerID:       "srv-breaker",
		MaxConnections: 2,
		Strategy:       StrategyRoundRobin,
		Breaker:        breaker.Settings{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute, Window: time.Minute},
		NewTransport: func(sink transport.EventSink) transport.Transport {
			atomic.AddInt32(&connectAttempts, 1)
			return &stubTransport{failConnect: true}
		},
	}
	require.NoError(t, p.RegisterServer(spec))

	_, err := p.GetConnection(context.Background(), "srv-breaker")
	assert.Error(t, err)
	_, err = p.GetConnection(context.Background(), "srv-breaker")
	assert.Error(t, err)

	attemptsBeforeOpen := atomic.LoadInt32(&connectAttempts)

	_, err = p.GetConnection(context.Background(), "srv-breaker")
	assert.Error(t, err)
	assert.Equal(t, attemptsBeforeOpen, atomic.LoadInt32(&connectAttempts))
}

// TestReapIdleReleasesSemaphorePermit guards against the permit leak
// where reaping an idle connection removed it from st.conns without
// releasing its semaphore slot, eventually starving GetConnection even
// though live connections sat far under MaxConnections.
func TestReapIdleReleasesSemaphorePermit(t *testing.T) {
	p := New()
	spec := newTestSpec("srv-reap", false)
	spec.MaxConnections = 1
	spec.IdleTimeout = 20 * time.Millisecond
	require.NoError(t, p.RegisterServer(spec))

	lease, err := p.GetConnection(context.Background(), "srv-reap")
	require.NoError(t, err)
	lease.Release()

	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = p.GetConnection(ctx, "srv-reap")
	assert.NoError(t, err)
}
