package paygate

import "errors"

// Sentinel errors for gateway operations. Backends wrap one of these so
// the client can classify failures.
var (
	// ErrUnavailable indicates the gateway is down or answered 5xx.
	ErrUnavailable = errors.New("paygate: gateway unavailable")

	// ErrRateLimited indicates the gateway throttled the request.
	ErrRateLimited = errors.New("paygate: rate limited")

	// ErrNetwork indicates a transport failure or timeout.
	ErrNetwork = errors.New("paygate: network error")

	// ErrRejected indicates the gateway refused the request. Retrying
	// the same request will not help.
	ErrRejected = errors.New("paygate: request rejected")

	ErrNoBackend      = errors.New("paygate: no backend configured")
	ErrInvalidRequest = errors.New("paygate: invalid request")
)

// IsRetryable reports whether the error is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetwork)
}
