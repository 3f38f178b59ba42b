package toolserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/internal/taskctx"
	"github.com/flowcoreio/enginecore/pkg/config"
)

type echoNode struct{ name string }

func (n *echoNode) Type() string { return "echo.node" }
func (n *echoNode) Name() string { return n.name }
func (n *echoNode) Process(ctx context.Context, tc *taskctx.TaskContext) (*taskctx.TaskContext, error) {
	tc.Metadata["echoed"] = true
	return tc, nil
}

func newTestServer() (*ToolServer, *node.Registry) {
	reg := node.NewRegistry()
	reg.Register("echo.node", func(name string) (node.Node, error) {
		return &echoNode{name: name}, nil
	})
	v := protocol.NewValidator(config.DefaultProtocol)
	return New(reg, v), reg
}

func TestToolNameNormalizesSeparators(t *testing.T) {
	assert.Equal(t, "http_fetch", ToolName("http.fetch"))
	assert.Equal(t, "a_b_c", ToolName("a/b.c"))
}

func TestCallToolInvokesRegisteredNode(t *testing.T) {
	ts, _ := newTestServer()

	result, err := ts.callTool(context.Background(), "echo.node", mcp.CallToolRequest{})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
}

func TestCallToolFailsForUnknownType(t *testing.T) {
	ts, _ := newTestServer()

	_, err := ts.callTool(context.Background(), "missing.node", mcp.CallToolRequest{})
	assert.Error(t, err)
}

func TestNewTestServerRegistersOneNodeType(t *testing.T) {
	_, reg := newTestServer()
	assert.Len(t, reg.Types(), 1)
}
