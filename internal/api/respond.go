package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/security"
)

// statusFor maps an error code to the HTTP status of the response.
func statusFor(code payment.ErrorCode) int {
	switch code {
	case payment.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case payment.CodeConcurrentModification:
		return http.StatusConflict
	case payment.CodeRateLimited:
		return http.StatusTooManyRequests
	case payment.CodeStripeUnavailable:
		return http.StatusServiceUnavailable
	case payment.CodeNetworkError:
		return http.StatusBadGateway
	case payment.CodePaymentTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEnvelope renders an operation outcome in the shared envelope.
func writeEnvelope(w http.ResponseWriter, result any, err error) {
	env := checkout.Respond(result, err)
	status := http.StatusOK
	if !env.IsOK() {
		status = statusFor(payment.ErrorCode(env.Error))
	}
	writeJSON(w, status, env)
}

// badRequest reports a malformed request in the envelope format.
func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, payment.Fail(payment.CodePaymentFailed, err.Error()))
}

// readBody reads at most limit bytes and checks JSON nesting. Limits <= 0
// take the security package defaults.
func readBody(r *http.Request, limit, depth int) ([]byte, error) {
	if limit <= 0 {
		limit = security.DefaultMaxPayloadSize
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if err := security.ValidatePayloadSize(body, limit); err != nil {
		return nil, err
	}
	if err := security.ValidateJSONDepth(body, depth); err != nil {
		return nil, err
	}
	return body, nil
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, cfg Config, v any) error {
	body, err := readBody(r, cfg.MaxBodyBytes, cfg.MaxJSONDepth)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}
