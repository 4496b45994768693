package payment

import (
	"errors"

	"github.com/flemzord/tabkeeper/internal/session"
)

// Sentinel errors for payment operations.
var (
	// ErrInsufficientFunds indicates the balance cannot cover the price.
	// The record is left untouched.
	ErrInsufficientFunds = errors.New("payment: insufficient funds")

	// ErrVersionConflict indicates another writer advanced the record
	// between read and write. Nothing was written.
	ErrVersionConflict = errors.New("payment: version conflict")

	// ErrSessionBusy indicates the session lock could not be acquired
	// before the caller's context ended. Re-issuing is safe.
	ErrSessionBusy = errors.New("payment: session busy")

	// ErrNotFound indicates the store holds no record for the session.
	ErrNotFound = errors.New("payment: state not found")

	// ErrSessionSettled indicates the session's payment is completed and
	// accepts no further orders or checkouts until reset.
	ErrSessionSettled = errors.New("payment: session already settled")

	ErrNoStore          = errors.New("payment: no store configured")
	ErrNoLocks          = errors.New("payment: no lock registry configured")
	ErrInvalidAmount    = errors.New("payment: invalid amount")
	ErrEmptyTab         = errors.New("payment: nothing to pay")
	ErrNoPayment        = errors.New("payment: no payment in progress")
	ErrPaymentFailed    = errors.New("payment: payment failed")
	ErrPaymentTimeout   = errors.New("payment: payment status timed out")
	ErrInvalidState     = errors.New("payment: invalid state")
	ErrStatusRegression = errors.New("payment: status cannot move backwards")
	ErrNotFlagged       = errors.New("payment: session is not flagged for reconciliation")

	// ErrTabChanged indicates items were added after the payment link was
	// issued, so the payment no longer covers the tab. Checkout must be
	// restarted.
	ErrTabChanged = errors.New("payment: tab changed since the payment link was issued, restart checkout")

	// ErrReconciliationRequired indicates a gateway-confirmed link could
	// not be recorded locally. The session was flagged and stays usable.
	ErrReconciliationRequired = errors.New("payment: reconciliation required")
)

// ErrorCode is the machine-readable error vocabulary shared by every
// operation surface.
type ErrorCode string

// Error codes.
const (
	CodeInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	CodeStripeUnavailable      ErrorCode = "STRIPE_UNAVAILABLE"
	CodePaymentFailed          ErrorCode = "PAYMENT_FAILED"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	CodeNetworkError           ErrorCode = "NETWORK_ERROR"
	CodeRateLimited            ErrorCode = "RATE_LIMITED"
	CodeInvalidSession         ErrorCode = "INVALID_SESSION"
	CodePaymentTimeout         ErrorCode = "PAYMENT_TIMEOUT"
)

// CodeOf maps a payment-layer error to its code. The second return is
// false when err is not one of this package's errors.
func CodeOf(err error) (ErrorCode, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrInsufficientFunds):
		return CodeInsufficientFunds, true
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSessionBusy):
		return CodeConcurrentModification, true
	case errors.Is(err, ErrPaymentTimeout):
		return CodePaymentTimeout, true
	case errors.Is(err, ErrSessionSettled),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotFlagged),
		errors.Is(err, session.ErrInvalidID):
		return CodeInvalidSession, true
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrEmptyTab),
		errors.Is(err, ErrNoPayment),
		errors.Is(err, ErrPaymentFailed),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrStatusRegression),
		errors.Is(err, ErrTabChanged),
		errors.Is(err, ErrReconciliationRequired):
		return CodePaymentFailed, true
	}
	return "", false
}
