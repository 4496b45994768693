package httpgw

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/flemzord/tabkeeper/internal/paygate"
)

// apiError is the gateway's error body.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// mapHTTPError converts a gateway status code and body into a wrapped
// paygate sentinel.
func mapHTTPError(statusCode int, body []byte) error {
	var ae apiError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &ae)
	}

	msg := ae.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("httpgw: %s: %w", msg, paygate.ErrRateLimited)
	case statusCode >= 500:
		return fmt.Errorf("httpgw: %s: %w", msg, paygate.ErrUnavailable)
	default:
		return fmt.Errorf("httpgw: %s: %w", msg, paygate.ErrRejected)
	}
}

// mapTransportError wraps a resty transport failure. Context errors stay
// visible to errors.Is so callers can tell a timeout from a refusal.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("httpgw: %w", errors.Join(paygate.ErrNetwork, err))
}
