package checkout

import (
	"context"
	"errors"

	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/security"
)

// CodeOf maps any error surfaced by the service to exactly one code.
// Payment-layer errors take precedence, so a lock wait that ran out of
// time stays CONCURRENT_MODIFICATION rather than NETWORK_ERROR.
func CodeOf(err error) payment.ErrorCode {
	if code, ok := payment.CodeOf(err); ok {
		return code
	}
	switch {
	case errors.Is(err, security.ErrRateLimited), errors.Is(err, paygate.ErrRateLimited):
		return payment.CodeRateLimited
	case errors.Is(err, paygate.ErrUnavailable):
		return payment.CodeStripeUnavailable
	case errors.Is(err, paygate.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return payment.CodeNetworkError
	default:
		return payment.CodePaymentFailed
	}
}

// Respond wraps an operation outcome in the uniform envelope.
func Respond(result any, err error) payment.Envelope {
	if err != nil {
		return payment.Fail(CodeOf(err), err.Error())
	}
	return payment.OK(result)
}
