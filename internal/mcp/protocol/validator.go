package protocol

import (
	"encoding/json"
	"strings"

	"github.com/flowcoreio/enginecore/pkg/config"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// RequestTracker detects duplicate request IDs within one connection's
// lifetime. It is constructed per-connection, never as a process-wide
// singleton, so one noisy client cannot poison another's ID space.
type RequestTracker struct {
	seen map[string]struct{}
}

func NewRequestTracker() *RequestTracker {
	return &RequestTracker{seen: make(map[string]struct{})}
}

func (t *RequestTracker) observe(id string) error {
	if _, ok := t.seen[id]; ok {
		return flowerrors.NewProtocol("mcp.protocol", "duplicate request id: "+id)
	}
	t.seen[id] = struct{}{}
	return nil
}

// suspiciousIDSubstrings are control-flow/injection patterns disallowed
// in request ids, carried over from the original validator's rules.
var suspiciousIDSubstrings = []string{"../", "javascript:", "<script"}

// maliciousArgSubstrings are the substrings that mark a tool argument as
// hostile input, carried over verbatim from the original validator.
var maliciousArgSubstrings = []string{"DROP TABLE", "rm -rf", "<script>", "../"}

// Validator enforces the engine's message bounds and security checks on
// every request before it reaches node or tool execution.
type Validator struct {
	cfg config.Protocol
}

func NewValidator(cfg config.Protocol) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateRequest runs the full suite of structural and security checks
// against a decoded request and its raw wire bytes.
func (v *Validator) ValidateRequest(raw []byte, req *Request, tracker *RequestTracker) error {
	if len(raw) > v.cfg.MaxMessageSize {
		return v.invalidRequest("message exceeds max size")
	}
	if req.JSONRPC != "2.0" {
		return v.invalidRequest("unsupported jsonrpc version")
	}
	if err := v.validateMethod(req.Method); err != nil {
		return err
	}
	if id, ok := req.ID.(string); ok {
		if err := v.validateRequestID(id); err != nil {
			return err
		}
		if tracker != nil {
			if err := tracker.observe(id); err != nil {
				return err
			}
		}
	}

	var depth, arrayLen int
	var parsed any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &parsed); err != nil {
			return &RPCError{Code: CodeParseError, Message: "malformed params JSON"}
		}
		depth = measureDepth(parsed, 0)
		if depth > v.cfg.MaxDepth {
			return v.invalidRequest("nesting too deep")
		}
		arrayLen = maxArrayLen(parsed)
		if arrayLen > v.cfg.MaxArrayLength {
			return v.invalidRequest("array too long")
		}
	}

	return nil
}

func (v *Validator) validateMethod(method string) error {
	if method == "" {
		return v.invalidRequest("empty method")
	}
	if len(method) > v.cfg.MaxMethodLength {
		return v.invalidRequest("method name too long")
	}
	if strings.ContainsAny(method, "\n\t\x00") {
		return v.invalidRequest("invalid characters in method")
	}
	if strings.Contains(method, " ") {
		return v.invalidRequest("method cannot contain spaces")
	}
	if strings.Count(method, "/") > 1 {
		return v.invalidRequest("too many slashes in method")
	}
	return nil
}

func (v *Validator) validateRequestID(id string) error {
	if id == "" {
		return v.invalidRequest("empty request id")
	}
	if len(id) > v.cfg.MaxIDLength {
		return v.invalidRequest("request id too long")
	}
	if strings.ContainsAny(id, "\x00\n\t\r") {
		return v.invalidRequest("request id contains control characters")
	}
	for _, bad := range suspiciousIDSubstrings {
		if strings.Contains(id, bad) {
			return v.invalidRequest("request id contains suspicious pattern")
		}
	}
	if strings.ContainsAny(id, `"'`) {
		return v.invalidRequest("request id contains quote characters")
	}
	return nil
}

// ValidateToolArguments scans tool call arguments for injection payloads
// and enforces a combined size cap.
func (v *Validator) ValidateToolArguments(args map[string]any) error {
	total := 0
	for k, val := range args {
		total += len(k)
		if s, ok := val.(string); ok {
			total += len(s)
			for _, bad := range maliciousArgSubstrings {
				if strings.Contains(s, bad) {
					return flowerrors.NewValidation("mcp.protocol", "malicious argument content detected")
				}
			}
			if strings.Contains(s, "\x00") {
				return flowerrors.NewValidation("mcp.protocol", "malicious argument content detected")
			}
		}
	}
	if total > v.cfg.MaxMessageSize {
		return flowerrors.NewValidation("mcp.protocol", "tool arguments too large")
	}
	return nil
}

func (v *Validator) invalidRequest(msg string) error {
	return &RPCError{Code: CodeInvalidRequest, Message: msg}
}

func measureDepth(v any, current int) int {
	switch val := v.(type) {
	case map[string]any:
		max := current
		for _, child := range val {
			if d := measureDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	case []any:
		max := current
		for _, child := range val {
			if d := measureDepth(child, current+1); d > max {
				max = d
			}
		}
		return max
	default:
		return current
	}
}

func maxArrayLen(v any) int {
	switch val := v.(type) {
	case map[string]any:
		max := 0
		for _, child := range val {
			if l := maxArrayLen(child); l > max {
				max = l
			}
		}
		return max
	case []any:
		max := len(val)
		for _, child := range val {
			if l := maxArrayLen(child); l > max {
				max = l
			}
		}
		return max
	default:
		return 0
	}
}
