package payment

// Envelope is the uniform result shape returned by tools, the HTTP API
// and MCP.
type Envelope struct {
	Status  string    `json:"status"`
	Result  any       `json:"result,omitempty"`
	Error   ErrorCode `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Envelope status values.
const (
	EnvelopeOK    = "ok"
	EnvelopeError = "error"
)

// OK wraps a successful result.
func OK(result any) Envelope {
	return Envelope{Status: EnvelopeOK, Result: result}
}

// Fail wraps an error with its code.
func Fail(code ErrorCode, message string) Envelope {
	return Envelope{Status: EnvelopeError, Error: code, Message: message}
}

// IsOK reports whether the envelope carries a success.
func (e Envelope) IsOK() bool { return e.Status == EnvelopeOK }
