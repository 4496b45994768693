// Package paygate talks to the external payment gateway: it probes
// availability, creates payment links with bounded retries and a
// simulated fallback, and polls payment status. It never mutates
// session payment state.
package paygate

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Backend is the protocol surface of a concrete payment gateway.
type Backend interface {
	// ProbeCapabilities returns the gateway's advertised capabilities.
	ProbeCapabilities(ctx context.Context) ([]string, error)
	CreatePaymentLink(ctx context.Context, req LinkRequest) (RemoteLink, error)
	PaymentStatus(ctx context.Context, paymentID string) (RemoteStatus, error)
}

// LinkRequest asks the gateway for a payment link.
type LinkRequest struct {
	SessionID      string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// RemoteLink is a link as returned by the gateway.
type RemoteLink struct {
	ID  string
	URL string
}

// RemoteStatus is the gateway's view of a payment.
type RemoteStatus string

// Gateway payment statuses.
const (
	RemotePending   RemoteStatus = "pending"
	RemoteSucceeded RemoteStatus = "succeeded"
	RemoteFailed    RemoteStatus = "failed"
)

// PaymentLink is the outcome of CreatePaymentLink.
type PaymentLink struct {
	URL       string `json:"url"`
	PaymentID string `json:"payment_id"`
	// Simulated is true when the link came from the local fallback
	// rather than the gateway.
	Simulated      bool   `json:"simulated"`
	Attempts       int    `json:"attempts"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Fallback reasons.
const (
	FallbackUnavailable = "unavailable"
	FallbackExhausted   = "retries_exhausted"
	FallbackTimeout     = "timeout"
)

// PollStatus is the final result of CheckPaymentStatus.
type PollStatus string

// Poll results.
const (
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
	PollTimeout   PollStatus = "timeout"
)

// PollResult reports how a status poll ended.
type PollResult struct {
	Status   PollStatus `json:"status"`
	Attempts int        `json:"attempts"`
}

const simulatedPrefix = "mock_"

// IsSimulated reports whether paymentID was issued by the local fallback.
func IsSimulated(paymentID string) bool {
	return strings.HasPrefix(paymentID, simulatedPrefix)
}

// LinkOptions bounds link creation. Zero fields take the client defaults.
type LinkOptions struct {
	MaxRetries     int
	OverallTimeout time.Duration
	// InitialBackoff is doubled before every further retry.
	InitialBackoff time.Duration
}

// DefaultLinkOptions waits 1s, 2s and 4s between attempts within 15s.
var DefaultLinkOptions = LinkOptions{
	MaxRetries:     3,
	OverallTimeout: 15 * time.Second,
	InitialBackoff: time.Second,
}

func (o LinkOptions) withDefaults(d LinkOptions) LinkOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = d.OverallTimeout
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	return o
}

// PollOptions bounds status polling. Zero fields take the client defaults.
type PollOptions struct {
	Interval       time.Duration
	PerPollTimeout time.Duration
	Deadline       time.Duration
	MaxAttempts    int
}

// DefaultPollOptions polls every 2s for at most 30s or 15 attempts.
var DefaultPollOptions = PollOptions{
	Interval:       2 * time.Second,
	PerPollTimeout: 5 * time.Second,
	Deadline:       30 * time.Second,
	MaxAttempts:    15,
}

func (o PollOptions) withDefaults(d PollOptions) PollOptions {
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.PerPollTimeout <= 0 {
		o.PerPollTimeout = d.PerPollTimeout
	}
	if o.Deadline <= 0 {
		o.Deadline = d.Deadline
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	return o
}

// Offline returns a Backend that reports the gateway as unavailable, so
// every link the client creates is simulated.
func Offline() Backend { return offlineBackend{} }

type offlineBackend struct{}

func (offlineBackend) ProbeCapabilities(context.Context) ([]string, error) {
	return nil, ErrUnavailable
}

func (offlineBackend) CreatePaymentLink(context.Context, LinkRequest) (RemoteLink, error) {
	return RemoteLink{}, ErrUnavailable
}

func (offlineBackend) PaymentStatus(context.Context, string) (RemoteStatus, error) {
	return "", ErrUnavailable
}

// Service names under which gateway modules publish their collaborators.
const (
	BackendService  = "paygate.backend"
	SettingsService = "paygate.settings"
)

// Settings are link defaults published next to a Backend.
type Settings struct {
	Currency    string
	MockBaseURL string
}
