// Package payment owns the per-session payment record: balance, running tab,
// gateway payment reference and status. Every mutation is a versioned
// compare-and-write performed while the session lock is held.
package payment

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the forward-only lifecycle of a session's payment.
type Status string

// Payment statuses, in lifecycle order.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Staying in place is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.Valid() && next.rank() >= s.rank()
}

// DefaultBalance is the spending allowance of a new session.
var DefaultBalance = decimal.RequireFromString("1000.00")

var paymentIDPattern = regexp.MustCompile(`^(plink|pi|cs|mock)_[A-Za-z0-9_]+$`)

// ValidPaymentID reports whether id looks like a gateway or simulated
// payment reference.
func ValidPaymentID(id string) bool { return paymentIDPattern.MatchString(id) }

// State is the payment record of one session.
type State struct {
	SessionID           string          `json:"session_id"`
	Balance             decimal.Decimal `json:"balance"`
	TabTotal            decimal.Decimal `json:"tab_total"`
	PaymentID           string          `json:"stripe_payment_id,omitempty"`
	Status              Status          `json:"payment_status"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
	// LinkAmount is the tab the current payment link was issued for.
	LinkAmount          decimal.Decimal `json:"link_amount"`
	Version             int64           `json:"version"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NewState returns the initial, never-committed record for a session.
func NewState(sessionID string, balance decimal.Decimal) State {
	return State{
		SessionID: sessionID,
		Balance:   balance,
		TabTotal:  decimal.Zero,
		Status:    StatusPending,
	}
}

// Validate checks the record's field constraints.
func (s State) Validate() error {
	switch {
	case s.SessionID == "":
		return fmt.Errorf("%w: empty session id", ErrInvalidState)
	case s.Balance.IsNegative():
		return fmt.Errorf("%w: negative balance %s", ErrInvalidState, s.Balance)
	case s.TabTotal.IsNegative():
		return fmt.Errorf("%w: negative tab %s", ErrInvalidState, s.TabTotal)
	case s.LinkAmount.IsNegative():
		return fmt.Errorf("%w: negative link amount %s", ErrInvalidState, s.LinkAmount)
	case !s.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, s.Status)
	case s.PaymentID != "" && !ValidPaymentID(s.PaymentID):
		return fmt.Errorf("%w: malformed payment id %q", ErrInvalidState, s.PaymentID)
	case s.Version < 0:
		return fmt.Errorf("%w: negative version", ErrInvalidState)
	case s.Status == StatusCompleted && s.NeedsReconciliation:
		return fmt.Errorf("%w: completed payment flagged for reconciliation", ErrInvalidState)
	}
	return nil
}

// checkTransition rejects writes that would move the status backwards.
func checkTransition(prev, next State) error {
	if !prev.Status.CanAdvanceTo(next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, prev.Status, next.Status)
	}
	return next.Validate()
}

// Equal reports whether two records hold the same values.
func (s State) Equal(o State) bool {
	return s.SessionID == o.SessionID &&
		s.Balance.Equal(o.Balance) &&
		s.TabTotal.Equal(o.TabTotal) &&
		s.PaymentID == o.PaymentID &&
		s.Status == o.Status &&
		s.IdempotencyKey == o.IdempotencyKey &&
		s.LinkAmount.Equal(o.LinkAmount) &&
		s.Version == o.Version &&
		s.NeedsReconciliation == o.NeedsReconciliation
}

// LinkCovers reports whether the recorded payment link was issued for the
// current tab. A zero LinkAmount means no amount was recorded.
func (s State) LinkCovers() bool {
	return s.LinkAmount.IsZero() || s.LinkAmount.Equal(s.TabTotal)
}

// View is the display form of a record, with amounts fixed to two decimals.
type View struct {
	SessionID           string `json:"session_id"`
	Balance             string `json:"balance"`
	TabTotal            string `json:"tab_total"`
	PaymentID           string `json:"stripe_payment_id,omitempty"`
	Status              Status `json:"payment_status"`
	Version             int64  `json:"version"`
	NeedsReconciliation bool   `json:"needs_reconciliation"`
}

// View renders the record for operation results.
func (s State) View() View {
	return View{
		SessionID:           s.SessionID,
		Balance:             s.Balance.StringFixed(2),
		TabTotal:            s.TabTotal.StringFixed(2),
		PaymentID:           s.PaymentID,
		Status:              s.Status,
		Version:             s.Version,
		NeedsReconciliation: s.NeedsReconciliation,
	}
}
