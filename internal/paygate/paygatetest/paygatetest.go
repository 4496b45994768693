// Package paygatetest provides test doubles for the paygate package.
package paygatetest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/tabkeeper/internal/paygate"
)

// Backend is a configurable test double for paygate.Backend. Unset funcs
// behave like a healthy gateway. All methods are safe for concurrent use.
type Backend struct {
	ProbeFunc  func(ctx context.Context) ([]string, error)
	CreateFunc func(ctx context.Context, req paygate.LinkRequest) (paygate.RemoteLink, error)
	StatusFunc func(ctx context.Context, paymentID string) (paygate.RemoteStatus, error)

	mu          sync.Mutex
	ProbeCalls  int
	CreateCalls int
	StatusCalls int
	Requests    []paygate.LinkRequest
}

var _ paygate.Backend = (*Backend)(nil)

// ProbeCapabilities delegates to ProbeFunc and tracks call count.
func (b *Backend) ProbeCapabilities(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	b.ProbeCalls++
	b.mu.Unlock()
	if b.ProbeFunc == nil {
		return []string{"payment_links"}, nil
	}
	return b.ProbeFunc(ctx)
}

// CreatePaymentLink delegates to CreateFunc and records the request.
func (b *Backend) CreatePaymentLink(ctx context.Context, req paygate.LinkRequest) (paygate.RemoteLink, error) {
	b.mu.Lock()
	b.CreateCalls++
	b.Requests = append(b.Requests, req)
	b.mu.Unlock()
	if b.CreateFunc == nil {
		return paygate.RemoteLink{ID: "plink_test", URL: "https://pay.example.test/plink_test"}, nil
	}
	return b.CreateFunc(ctx, req)
}

// PaymentStatus delegates to StatusFunc and tracks call count.
func (b *Backend) PaymentStatus(ctx context.Context, paymentID string) (paygate.RemoteStatus, error) {
	b.mu.Lock()
	b.StatusCalls++
	b.mu.Unlock()
	if b.StatusFunc == nil {
		return paygate.RemoteSucceeded, nil
	}
	return b.StatusFunc(ctx, paymentID)
}

// Calls returns the probe, create and status call counts.
func (b *Backend) Calls() (probe, create, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ProbeCalls, b.CreateCalls, b.StatusCalls
}

// Clock is a manual paygate.Clock. Sleep advances the clock instantly and
// records the requested duration.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

var _ paygate.Clock = (*Clock)(nil)

// NewClock returns a Clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d unless ctx is already done.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

// Advance moves the clock forward without recording a sleep.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// Slept returns the total time spent in Sleep.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}
