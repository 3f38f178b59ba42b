// Package poolnode adapts a pooled MCP connection to node.Node: the
// workflow graph's way of calling out to an external MCP server's tool
// without any node implementation touching the pool's lease mechanics
// directly.
package poolnode

import (
	"context"

	"github.com/flowcoreio/enginecore/internal/mcp/pool"
	"github.com/flowcoreio/enginecore/internal/node"
	"github.com/flowcoreio/enginecore/internal/taskctx"
)

// Node leases a connection to ServerID from a pool.Pool, calls ToolName
// on it with the task context's event data as arguments, and records
// the result under its own name.
type Node struct {
	name     string
	serverID string
	toolName string
	pool     *pool.Pool
}

// New builds a Node of type "mcp.tool_call" bound to one pooled server
// and tool.
func New(p *pool.Pool, serverID, toolName, name string) *Node {
	return &Node{name: name, serverID: serverID, toolName: toolName, pool: p}
}

func (n *Node) Type() string { return "mcp.tool_call" }
func (n *Node) Name() string { return n.name }

func (n *Node) Process(ctx context.Context, tc *taskctx.TaskContext) (*taskctx.TaskContext, error) {
	lease, err := n.pool.GetConnection(ctx, n.serverID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	result, err := lease.Transport().SendRequest(ctx, n.toolName, tc.EventData)
	if err != nil {
		return nil, err
	}

	tc.SetNode(n.name, result)
	return tc, nil
}

// Constructor builds a node.Constructor for serverID/toolName, for
// wiring into node.Registry at startup.
func Constructor(p *pool.Pool, serverID, toolName string) node.Constructor {
	return func(name string) (node.Node, error) {
		return New(p, serverID, toolName, name), nil
	}
}
