package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/mcp/protocol"
)

func TestHTTPTransportSendRequestRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/call", req.Method)

		resp := protocol.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"content":[]}`)}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPSpec{URL: srv.URL}, nil)
	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Healthy())

	result, err := tr.SendRequest(context.Background(), "echo.node", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.NotNil(t, result)

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.False(t, tr.Healthy())
}

func TestHTTPTransportSendRequestPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := protocol.Response{JSONRPC: "2.0", Error: &protocol.RPCError{Code: -32000, Message: "boom"}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPSpec{URL: srv.URL}, nil)
	_, err := tr.SendRequest(context.Background(), "echo.node", nil)
	assert.ErrorContains(t, err, "boom")
}

func TestHTTPTransportNotifiesSinkOnConnectAndDisconnect(t *testing.T) {
	var transitions []Transition
	sink := func(serverID string, transition Transition, err error) {
		transitions = append(transitions, transition)
	}

	tr := NewHTTPTransport(HTTPSpec{URL: "http://example.invalid"}, sink)
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Disconnect(context.Background()))

	assert.Equal(t, []Transition{TransitionConnected, TransitionDisconnected}, transitions)
}
