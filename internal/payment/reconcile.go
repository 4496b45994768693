package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/session"
)

const (
	// DefaultReconcileAttempts is the first write plus three retries.
	DefaultReconcileAttempts = 4
	DefaultReconcileBackoff  = 500 * time.Millisecond
)

// LinkRecord is a payment link the gateway has already created and that
// must be recorded on the session.
type LinkRecord struct {
	PaymentID      string
	IdempotencyKey string
	Amount         decimal.Decimal
	Simulated      bool
}

// CriticalEvent describes a link that could not be recorded locally.
type CriticalEvent struct {
	SessionID string
	PaymentID string
	TabAmount decimal.Decimal
	Attempts  int
	Cause     error
	// Persisted is false when even the reconciliation flag could not be
	// written and the flag was parked in memory.
	Persisted bool
}

// PendingFlag is a reconciliation flag waiting to be persisted.
type PendingFlag struct {
	SessionID string          `json:"session_id"`
	PaymentID string          `json:"payment_id"`
	TabAmount decimal.Decimal `json:"tab_amount"`
	Since     time.Time       `json:"since"`
	Retries   int             `json:"retries"`
}

// Resolution is an operator's answer to a flagged session. An empty
// PaymentID only clears the flag.
type Resolution struct {
	PaymentID      string
	IdempotencyKey string
}

// ReconcilerConfig holds the configuration for a Reconciler.
type ReconcilerConfig struct {
	// Attempts counts the first write. Zero means DefaultReconcileAttempts.
	Attempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Payments

	// OnCritical, if set, receives every reconciliation event.
	OnCritical func(CriticalEvent)

	// Sleep waits between attempts. Defaults to a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultReconcileAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultReconcileBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Reconciler records gateway-created links on sessions and flags the
// sessions whose local write could not be completed.
type Reconciler struct {
	proc *Processor
	cfg  ReconcilerConfig

	mu      sync.Mutex
	pending map[string]PendingFlag
}

// NewReconciler creates a Reconciler writing through proc.
func NewReconciler(proc *Processor, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		proc:    proc,
		cfg:     cfg.withDefaults(),
		pending: make(map[string]PendingFlag),
	}
}

// RecordLink stores link on the session and moves it to processing.
// Re-recording the same link is recognised as already applied. When every
// attempt fails, or the link carries an id that cannot be stored, the
// session is flagged for reconciliation and the returned error wraps
// ErrReconciliationRequired; the session stays usable.
func (r *Reconciler) RecordLink(ctx context.Context, sc session.Context, link LinkRecord) (State, error) {
	if err := sc.Validate(); err != nil {
		return State{}, err
	}
	if !ValidPaymentID(link.PaymentID) {
		// The gateway already holds this payment. It cannot be stored, so
		// the session is flagged with the raw id in the log and event.
		return r.flag(ctx, sc, link, 0, fmt.Errorf("%w: malformed payment id %q", ErrInvalidState, link.PaymentID))
	}

	log := r.cfg.Logger.With(append(sc.LogAttrs(), "payment_id", link.PaymentID)...)

	var lastErr error
	attempt := 1
	for ; attempt <= r.cfg.Attempts; attempt++ {
		st, err := r.proc.mutate(ctx, sc.ID, func(st State) (State, bool, error) {
			if st.PaymentID == link.PaymentID && st.IdempotencyKey == link.IdempotencyKey && st.Status != StatusPending {
				return st, false, nil
			}
			if st.Status == StatusCompleted {
				return st, false, ErrSessionSettled
			}
			next := st
			next.PaymentID = link.PaymentID
			next.IdempotencyKey = link.IdempotencyKey
			next.LinkAmount = link.Amount
			next.Status = StatusProcessing
			return next, true, nil
		})
		if err == nil {
			if attempt > 1 {
				log.Info("payment link recorded after retry", "attempt", attempt)
			}
			return st, nil
		}
		if permanent(err) {
			return st, err
		}

		lastErr = err
		log.Warn("recording payment link failed", "attempt", attempt, "max_attempts", r.cfg.Attempts, "error", err)
		if attempt == r.cfg.Attempts {
			break
		}
		if err := r.cfg.Sleep(ctx, r.cfg.Backoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	return r.flag(ctx, sc, link, attempt, lastErr)
}

func permanent(err error) bool {
	return errors.Is(err, ErrSessionSettled) ||
		errors.Is(err, ErrStatusRegression) ||
		errors.Is(err, ErrInvalidState)
}

func (r *Reconciler) flag(ctx context.Context, sc session.Context, link LinkRecord, attempts int, cause error) (State, error) {
	// The flag must land even when the caller gave up waiting.
	wctx := context.WithoutCancel(ctx)

	st, err := r.proc.mutate(wctx, sc.ID, markFlagged(false, link.Amount))
	persisted := err == nil
	if !persisted {
		r.park(PendingFlag{
			SessionID: sc.ID,
			PaymentID: link.PaymentID,
			TabAmount: link.Amount,
			Since:     r.cfg.Now(),
		})
	}

	r.cfg.Logger.Error("payment reconciliation required",
		"session_id", sc.ID,
		"payment_id", link.PaymentID,
		"tab_amount", link.Amount.StringFixed(2),
		"attempts", attempts,
		"flag_persisted", persisted,
		"error", cause,
	)
	if !persisted {
		r.cfg.Logger.Error("reconciliation flag parked in memory", "session_id", sc.ID, "error", err)
	}
	r.cfg.Metrics.ReconciliationFlagged()
	if r.cfg.OnCritical != nil {
		r.cfg.OnCritical(CriticalEvent{
			SessionID: sc.ID,
			PaymentID: link.PaymentID,
			TabAmount: link.Amount,
			Attempts:  attempts,
			Cause:     cause,
			Persisted: persisted,
		})
	}

	return st, fmt.Errorf("%w: session %s payment %s: %w", ErrReconciliationRequired, sc.ID, link.PaymentID, cause)
}

// markFlagged sets the reconciliation flag. Settled sessions are left
// alone, and so are missing records when requireExisting is set. A record
// without a stored link keeps the amount the unrecorded link was issued for.
func markFlagged(requireExisting bool, amount decimal.Decimal) func(State) (State, bool, error) {
	return func(st State) (State, bool, error) {
		if st.Status == StatusCompleted || st.NeedsReconciliation {
			return st, false, nil
		}
		if requireExisting && st.Version == 0 {
			return st, false, nil
		}
		next := st
		next.NeedsReconciliation = true
		if st.PaymentID == "" {
			next.LinkAmount = amount
		}
		return next, true, nil
	}
}

func (r *Reconciler) park(pf PendingFlag) {
	r.mu.Lock()
	if prev, ok := r.pending[pf.SessionID]; ok {
		pf.Since = prev.Since
		pf.Retries = prev.Retries
	}
	r.pending[pf.SessionID] = pf
	n := len(r.pending)
	r.mu.Unlock()
	r.cfg.Metrics.SetReconciliationPending(n)
}

func (r *Reconciler) unpark(sessionID string) {
	r.mu.Lock()
	delete(r.pending, sessionID)
	n := len(r.pending)
	r.mu.Unlock()
	r.cfg.Metrics.SetReconciliationPending(n)
}

// Pending returns the parked flags ordered by session id.
func (r *Reconciler) Pending() []PendingFlag {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PendingFlag, 0, len(r.pending))
	for _, pf := range r.pending {
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Sweep retries every parked flag and returns how many were persisted.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	applied := 0
	var errs []error
	for _, pf := range r.Pending() {
		if _, err := r.proc.mutate(ctx, pf.SessionID, markFlagged(true, pf.TabAmount)); err != nil {
			r.mu.Lock()
			if cur, ok := r.pending[pf.SessionID]; ok {
				cur.Retries++
				r.pending[pf.SessionID] = cur
			}
			r.mu.Unlock()
			errs = append(errs, fmt.Errorf("session %s: %w", pf.SessionID, err))
			continue
		}
		r.unpark(pf.SessionID)
		applied++
		r.cfg.Logger.Info("reconciliation flag persisted", "session_id", pf.SessionID, "payment_id", pf.PaymentID)
	}
	return applied, errors.Join(errs...)
}

// Flagged returns the sessions awaiting reconciliation in the store.
func (r *Reconciler) Flagged(ctx context.Context) ([]State, error) {
	return r.proc.store.Flagged(ctx)
}

// Resolve clears the session's reconciliation flag, optionally recording
// the gateway payment the operator confirmed.
func (r *Reconciler) Resolve(ctx context.Context, sc session.Context, res Resolution) (State, error) {
	if err := sc.Validate(); err != nil {
		return State{}, err
	}
	if res.PaymentID != "" && !ValidPaymentID(res.PaymentID) {
		return State{}, fmt.Errorf("%w: malformed payment id %q", ErrInvalidState, res.PaymentID)
	}

	r.mu.Lock()
	_, parked := r.pending[sc.ID]
	r.mu.Unlock()

	st, err := r.proc.mutate(ctx, sc.ID, func(st State) (State, bool, error) {
		if !st.NeedsReconciliation && !parked {
			return st, false, ErrNotFlagged
		}
		next := st
		next.NeedsReconciliation = false
		if res.PaymentID != "" && st.Status != StatusCompleted {
			next.PaymentID = res.PaymentID
			next.LinkAmount = st.TabTotal
			next.Status = StatusProcessing
			if res.IdempotencyKey != "" {
				next.IdempotencyKey = res.IdempotencyKey
			}
		}
		return next, true, nil
	})
	if err != nil {
		return st, fmt.Errorf("resolving session %s: %w", sc.ID, err)
	}

	r.unpark(sc.ID)
	r.cfg.Logger.Info("reconciliation resolved", append(sc.LogAttrs(), "payment_id", st.PaymentID, "version", st.Version)...)
	return st, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
