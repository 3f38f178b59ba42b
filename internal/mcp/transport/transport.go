// Package transport implements the three MCP transport bindings the
// engine's connection pool can lease: stdio, WebSocket, and HTTP. Each
// wraps a concrete wire client behind the same small interface so the
// pool never needs to know which one it is holding.
package transport

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Transition describes a connect/disconnect event a transport reports to
// its owner, normally the connection pool.
type Transition string

const (
	TransitionConnected    Transition = "connected"
	TransitionDisconnected Transition = "disconnected"
	TransitionFailed       Transition = "failed"
)

// EventSink receives connect/disconnect notifications from a Transport.
type EventSink func(serverID string, transition Transition, err error)

// Transport is the minimal surface the connection pool needs from any
// MCP wire binding.
type Transport interface {
	Connect(ctx context.Context) error
	SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error)
	Disconnect(ctx context.Context) error
	Healthy() bool
}

func wrapConnect(subsystem string, err error) error {
	if err == nil {
		return nil
	}
	return flowerrors.NewConnection(subsystem, "connect failed", err)
}
