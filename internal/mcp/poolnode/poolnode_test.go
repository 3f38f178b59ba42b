package poolnode

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/mcp/pool"
	"github.com/flowcoreio/enginecore/internal/mcp/transport"
	"github.com/flowcoreio/enginecore/internal/taskctx"
	"github.com/flowcoreio/enginecore/pkg/breaker"
)

type echoTransport struct {
	lastTool string
	lastArgs map[string]any
}

func (e *echoTransport) Connect(ctx context.Context) error { return nil }

func (e *echoTransport) SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	e.lastTool = toolName
	e.lastArgs = args
	return &mcp.CallToolResult{}, nil
}

func (e *echoTransport) Disconnect(ctx context.Context) error { return nil }
func (e *echoTransport) Healthy() bool                        { return true }

func TestProcessLeasesAndCallsTool(t *testing.T) {
	p := pool.New()
	require.NoError(t, p.RegisterServer(pool.ServerSpec{
		ServerID:       "files",
		MaxConnections: 1,
		Strategy:       pool.StrategyRoundRobin,
		Breaker:        breaker.Settings{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Second, Window: time.Second},
		NewTransport: func(sink transport.EventSink) transport.Transport {
			return &echoTransport{}
		},
	}))

	n := New(p, "files", "read_file", "read-config")
	tc := taskctx.New("config.sync", map[string]any{"path": "/etc/app.conf"})

	out, err := n.Process(context.Background(), tc)
	require.NoError(t, err)
	assert.Contains(t, out.Nodes, "read-config")

	metrics, err := p.Metrics("files")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalConnections)
	assert.Equal(t, 0, metrics.ActiveLeases)
}

func TestProcessPropagatesPoolError(t *testing.T) {
	p := pool.New()
	n := New(p, "unregistered", "read_file", "read-config")
	tc := taskctx.New("config.sync", nil)

	_, err := n.Process(context.Background(), tc)
	assert.Error(t, err)
}
