package transport

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// ReconnectConfig governs a WebSocketTransport's exponential reconnect
// backoff after the connection drops.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

var DefaultReconnect = ReconnectConfig{
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	MaxAttempts:  10,
}

// WebSocketSpec configures a WebSocketTransport.
type WebSocketSpec struct {
	URL               string
	HeartbeatInterval time.Duration
	Reconnect         ReconnectConfig
}

// WebSocketTransport speaks JSON-RPC 2.0 over a single persistent
// gorilla/websocket connection, with a heartbeat ping and automatic
// reconnect on drop.
type WebSocketTransport struct {
	spec WebSocketSpec
	sink EventSink

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[string]chan *protocol.Response

	stop chan struct{}
}

func NewWebSocketTransport(spec WebSocketSpec, sink EventSink) *WebSocketTransport {
	if spec.HeartbeatInterval == 0 {
		spec.HeartbeatInterval = 30 * time.Second
	}
	if spec.Reconnect.MaxAttempts == 0 {
		spec.Reconnect = DefaultReconnect
	}
	return &WebSocketTransport{
		spec:    spec,
		sink:    sink,
		pending: make(map[string]chan *protocol.Response),
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}

	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, t.spec.URL, nil)
	if err != nil {
		t.notify(TransitionFailed, err)
		return wrapConnect("transport.WebSocket", err)
	}

	t.conn = conn
	t.stop = make(chan struct{})
	go t.readLoop(t.conn, t.stop)
	go t.heartbeatLoop(t.conn, t.stop)

	t.notify(TransitionConnected, nil)
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			logging.Warn("transport.WebSocket", "read loop ended: %v", err)
			t.handleDrop(stop, err)
			return
		}
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			logging.Warn("transport.WebSocket", "malformed response: %v", err)
			continue
		}
		id, _ := resp.ID.(string)
		t.mu.Lock()
		ch, ok := t.pending[id]
		if ok {
			delete(t.pending, id)
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (t *WebSocketTransport) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(t.spec.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logging.Warn("transport.WebSocket", "heartbeat failed: %v", err)
				t.handleDrop(stop, err)
				return
			}
		}
	}
}

func (t *WebSocketTransport) handleDrop(stop chan struct{}, err error) {
	t.mu.Lock()
	select {
	case <-stop:
		// Disconnect or the other loop has already torn this connection down.
		t.mu.Unlock()
		return
	default:
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	close(stop)
	t.mu.Unlock()
	t.notify(TransitionDisconnected, err)
	t.reconnect()
}

func (t *WebSocketTransport) reconnect() {
	delay := t.spec.Reconnect.InitialDelay
	for attempt := 1; attempt <= t.spec.Reconnect.MaxAttempts; attempt++ {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.Connect(ctx)
		cancel()
		if err == nil {
			logging.Info("transport.WebSocket", "reconnected after %d attempt(s)", attempt)
			return
		}
		delay = time.Duration(float64(delay) * t.spec.Reconnect.Multiplier)
		if delay > t.spec.Reconnect.MaxDelay {
			delay = t.spec.Reconnect.MaxDelay
		}
	}
	logging.Error("transport.WebSocket", nil, "giving up reconnecting to %s", t.spec.URL)
}

func (t *WebSocketTransport) SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil, flowerrors.NewConnection("transport.WebSocket", "not connected", nil)
	}
	id := atomic.AddUint64(&t.nextID, 1)
	idStr := strconv.FormatUint(id, 10)
	respCh := make(chan *protocol.Response, 1)
	t.pending[idStr] = respCh
	t.mu.Unlock()

	params, err := json.Marshal(map[string]any{"name": toolName, "arguments": args})
	if err != nil {
		return nil, flowerrors.NewProtocol("transport.WebSocket", "encoding params failed")
	}
	req := protocol.Request{JSONRPC: "2.0", ID: idStr, Method: "tools/call", Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, flowerrors.NewProtocol("transport.WebSocket", "encoding request failed")
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, flowerrors.NewConnection("transport.WebSocket", "write failed", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, flowerrors.NewProtocol("transport.WebSocket", resp.Error.Message)
		}
		var result mcp.CallToolResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, flowerrors.NewProtocol("transport.WebSocket", "decoding result failed")
		}
		return &result, nil
	case <-ctx.Done():
		return nil, flowerrors.NewTimeout("transport.WebSocket", "call_tool timed out", ctx.Err())
	}
}

func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if t.stop != nil {
		select {
		case <-t.stop:
		default:
			close(t.stop)
		}
	}
	t.notify(TransitionDisconnected, err)
	return err
}

func (t *WebSocketTransport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WebSocketTransport) notify(transition Transition, err error) {
	if t.sink != nil {
		t.sink(t.spec.URL, transition, err)
	}
}

