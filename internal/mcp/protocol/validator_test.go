package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/pkg/config"
)

func testValidator() *Validator {
	return NewValidator(config.DefaultProtocol)
}

func TestValidateRequestAcceptsWellFormedRequest(t *testing.T) {
	v := testValidator()
	req := &Request{JSONRPC: "2.0", ID: "req-1", Method: "tools/call", Params: []byte(`{"name":"x"}`)}
	err := v.ValidateRequest([]byte(`{}`), req, NewRequestTracker())
	require.NoError(t, err)
}

func TestValidateRequestRejectsWrongJSONRPCVersion(t *testing.T) {
	v := testValidator()
	req := &Request{JSONRPC: "1.0", ID: "req-1", Method: "tools/call"}
	assert.Error(t, v.ValidateRequest(nil, req, nil))
}

func TestValidateRequestRejectsOversizedMessage(t *testing.T) {
	v := NewValidator(config.Protocol{MaxMessageSize: 4, MaxMethodLength: 100, MaxIDLength: 100, MaxDepth: 10, MaxArrayLength: 10})
	req := &Request{JSONRPC: "2.0", Method: "tools/call"}
	err := v.ValidateRequest([]byte("way too big"), req, nil)
	assert.Error(t, err)
}

func TestValidateRequestRejectsDuplicateID(t *testing.T) {
	v := testValidator()
	tracker := NewRequestTracker()
	req := &Request{JSONRPC: "2.0", ID: "dup", Method: "tools/call"}

	require.NoError(t, v.ValidateRequest(nil, req, tracker))
	assert.Error(t, v.ValidateRequest(nil, req, tracker))
}

func TestValidateRequestRejectsSuspiciousID(t *testing.T) {
	v := testValidator()
	req := &Request{JSONRPC: "2.0", ID: "../etc/passwd", Method: "tools/call"}
	assert.Error(t, v.ValidateRequest(nil, req, nil))
}

func TestValidateRequestRejectsTooDeepParams(t *testing.T) {
	v := NewValidator(config.Protocol{MaxMessageSize: 1 << 20, MaxMethodLength: 100, MaxIDLength: 100, MaxDepth: 2, MaxArrayLength: 100})
	req := &Request{JSONRPC: "2.0", Method: "tools/call", Params: []byte(`{"a":{"b":{"c":1}}}`)}
	assert.Error(t, v.ValidateRequest(nil, req, nil))
}

func TestValidateRequestRejectsOversizedArray(t *testing.T) {
	v := NewValidator(config.Protocol{MaxMessageSize: 1 << 20, MaxMethodLength: 100, MaxIDLength: 100, MaxDepth: 10, MaxArrayLength: 2})
	req := &Request{JSONRPC: "2.0", Method: "tools/call", Params: []byte(`{"items":[1,2,3]}`)}
	assert.Error(t, v.ValidateRequest(nil, req, nil))
}

func TestValidateRequestRejectsEmptyMethod(t *testing.T) {
	v := testValidator()
	req := &Request{JSONRPC: "2.0", Method: ""}
	assert.Error(t, v.ValidateRequest(nil, req, nil))
}

func TestValidateToolArgumentsRejectsMaliciousContent(t *testing.T) {
	v := testValidator()
	err := v.ValidateToolArguments(map[string]any{"query": "'; DROP TABLE users; --"})
	assert.Error(t, err)
}

func TestValidateToolArgumentsAcceptsCleanContent(t *testing.T) {
	v := testValidator()
	err := v.ValidateToolArguments(map[string]any{"query": "select your favorite color"})
	assert.NoError(t, err)
}
