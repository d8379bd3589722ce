package wire

import "encoding/json"

const (
	TypeJob      = "job"
	TypeResult   = "result"
	TypeDynamics = "dynamics"
)

// Envelope is an inbound message. Request stays raw until the type is known.
// RequestID is kept verbatim so string and numeric IDs echo back unchanged.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
}

// Message is an outbound message.
type Message struct {
	Type      string          `json:"type"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
	Data      any             `json:"data"`
}

// ErrorResult is the terminal payload for a failed job or sweep entry.
func ErrorResult(msg string) map[string]any {
	if msg == "" {
		msg = "unknown error"
	}
	return map[string]any{"error": msg}
}

// IsErrorResult reports whether v is an error payload.
func IsErrorResult(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	_, ok = m["error"].(string)
	return ok
}
