package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// DefaultInitTimeout bounds how long the stdio handshake may take,
// covering subprocess startup plus the MCP initialize round trip.
const DefaultInitTimeout = 10 * time.Second

// StdioSpec configures a StdioTransport.
type StdioSpec struct {
	Command     string
	Args        []string
	Env         map[string]string
	AutoRestart bool
	MaxRestarts int
}

// StdioTransport runs a local subprocess MCP server and talks to it over
// stdin/stdout.
type StdioTransport struct {
	spec     StdioSpec
	sink     EventSink
	mu       sync.RWMutex
	client   *client.Client
	restarts int
}

func NewStdioTransport(spec StdioSpec, sink EventSink) *StdioTransport {
	return &StdioTransport{spec: spec, sink: sink}
}

func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return nil
	}

	var envStrings []string
	for k, v := range t.spec.Env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	logging.Debug("transport.Stdio", "starting %s %v", t.spec.Command, t.spec.Args)
	c, err := client.NewStdioMCPClient(t.spec.Command, envStrings, t.spec.Args...)
	if err != nil {
		t.notify(TransitionFailed, err)
		return wrapConnect("transport.Stdio", err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	_, err = c.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo:      mcp.Implementation{Name: "enginecore", Version: "1.0.0"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = c.Close()
		t.notify(TransitionFailed, err)
		return wrapConnect("transport.Stdio", err)
	}

	t.client = c
	t.notify(TransitionConnected, nil)
	return nil
}

func (t *StdioTransport) SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return nil, flowerrors.NewConnection("transport.Stdio", "not connected", nil)
	}

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		if t.spec.AutoRestart && t.restarts < t.spec.MaxRestarts {
			t.restarts++
			logging.Warn("transport.Stdio", "call failed, restarting subprocess (%d/%d): %v", t.restarts, t.spec.MaxRestarts, err)
			_ = t.Disconnect(ctx)
			if reconnErr := t.Connect(ctx); reconnErr != nil {
				return nil, flowerrors.NewConnection("transport.Stdio", "restart failed", reconnErr)
			}
		}
		return nil, flowerrors.NewConnection("transport.Stdio", "call_tool failed", err)
	}
	return result, nil
}

func (t *StdioTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	t.notify(TransitionDisconnected, err)
	return err
}

func (t *StdioTransport) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

func (t *StdioTransport) notify(transition Transition, err error) {
	if t.sink != nil {
		t.sink(t.spec.Command, transition, err)
	}
}
