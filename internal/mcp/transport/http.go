package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// HTTPSpec configures an HTTPTransport.
type HTTPSpec struct {
	URL     string
	Headers map[string]string
}

// HTTPTransport sends one JSON-RPC request per HTTP POST, relying on
// go-retryablehttp's own exponential backoff beneath the pool's breaker.
type HTTPTransport struct {
	spec   HTTPSpec
	sink   EventSink
	client *retryablehttp.Client
	nextID uint64
	mu     sync.Mutex
	up     bool
}

func NewHTTPTransport(spec HTTPSpec, sink EventSink) *HTTPTransport {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &HTTPTransport{spec: spec, sink: sink, client: client}
}

func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.up = true
	t.notify(TransitionConnected, nil)
	return nil
}

func (t *HTTPTransport) SendRequest(ctx context.Context, toolName string, args map[string]any) (*mcp.CallToolResult, error) {
	id := atomic.AddUint64(&t.nextID, 1)

	params, err := json.Marshal(map[string]any{"name": toolName, "arguments": args})
	if err != nil {
		return nil, flowerrors.NewProtocol("transport.HTTP", "encoding params failed")
	}
	req := protocol.Request{JSONRPC: "2.0", ID: id, Method: "tools/call", Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, flowerrors.NewProtocol("transport.HTTP", "encoding request failed")
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.spec.URL, bytes.NewReader(body))
	if err != nil {
		return nil, flowerrors.NewConnection("transport.HTTP", "building request failed", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.spec.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.notify(TransitionFailed, err)
		return nil, flowerrors.NewConnection("transport.HTTP", "request failed", err)
	}
	defer resp.Body.Close()

	var rpcResp protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, flowerrors.NewProtocol("transport.HTTP", "decoding response failed")
	}
	if rpcResp.Error != nil {
		return nil, flowerrors.NewProtocol("transport.HTTP", rpcResp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, flowerrors.NewProtocol("transport.HTTP", "decoding result failed")
	}
	return &result, nil
}

func (t *HTTPTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.up = false
	t.notify(TransitionDisconnected, nil)
	return nil
}

func (t *HTTPTransport) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.up
}

func (t *HTTPTransport) notify(transition Transition, err error) {
	if t.sink != nil {
		t.sink(t.spec.URL, transition, err)
	}
}
