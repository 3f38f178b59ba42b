// Package toolserver exposes a node.Registry as an MCP tool server, so
// any node type the engine knows how to run can also be invoked directly
// by an external MCP client.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/internal/taskctx"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// ToolServer wraps a node.Registry behind an MCP server, deriving one
// tool per registered node type.
type ToolServer struct {
	registry  *node.Registry
	validator *protocol.Validator
	mcp       *server.MCPServer
}

func New(registry *node.Registry, validator *protocol.Validator) *ToolServer {
	ts := &ToolServer{
		registry:  registry,
		validator: validator,
		mcp:       server.NewMCPServer("enginecore", "1.0.0"),
	}
	ts.registerTools()
	return ts
}

// ToolName derives a deterministic, wire-safe tool name from a node type
// identity by normalizing path separators into underscores.
func ToolName(nodeType string) string {
	name := strings.ReplaceAll(nodeType, ".", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return name
}

func (ts *ToolServer) registerTools() {
	for _, t := range ts.registry.Types() {
		nodeType := t
		tool := mcp.NewTool(ToolName(nodeType),
			mcp.WithDescription(fmt.Sprintf("Invoke node type %s", nodeType)),
		)
		ts.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return ts.callTool(ctx, nodeType, req)
		})
	}
}

func (ts *ToolServer) callTool(ctx context.Context, nodeType string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	if err := ts.validator.ValidateToolArguments(args); err != nil {
		return nil, err
	}

	contextData, _ := args["context_data"].(map[string]any)
	tc := taskctx.New(nodeType, contextData)

	n, err := ts.registry.Build(nodeType, nodeType)
	if err != nil {
		return nil, err
	}

	logging.Debug("mcp.toolserver", "invoking node type=%s run=%s", nodeType, tc.RunID)
	out, err := n.Process(ctx, tc)
	if err != nil {
		return nil, flowerrors.NewRuntime("mcp.toolserver", fmt.Sprintf("node %s failed", nodeType), err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, flowerrors.NewRuntime("mcp.toolserver", "serializing result failed", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(payload))},
	}, nil
}

// Serve runs the tool server over stdio until ctx is canceled.
func (ts *ToolServer) Serve(ctx context.Context) error {
	return server.NewStdioServer(ts.mcp).Listen(ctx, os.Stdin, os.Stdout)
}
