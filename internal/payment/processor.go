package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/session"
)

// Phase is a step of the order state machine.
type Phase string

// Order phases. A successful order walks IDLE, CHECKING_BALANCE,
// RESERVING_FUNDS, FUNDS_RESERVED and back to IDLE. Insufficient funds
// returns to IDLE from CHECKING_BALANCE; a version conflict goes back to
// CHECKING_BALANCE while the conflict policy allows another attempt.
const (
	PhaseIdle            Phase = "IDLE"
	PhaseCheckingBalance Phase = "CHECKING_BALANCE"
	PhaseReservingFunds  Phase = "RESERVING_FUNDS"
	PhaseFundsReserved   Phase = "FUNDS_RESERVED"
)

// MaxConflictAttempts caps ConflictPolicy.MaxAttempts.
const MaxConflictAttempts = 3

// ConflictPolicy bounds how often a business write is re-read and retried
// after a version conflict. MaxAttempts counts the first attempt, so the
// default of 1 surfaces every conflict to the caller.
type ConflictPolicy struct {
	MaxAttempts int
}

func (p ConflictPolicy) attempts() int {
	switch {
	case p.MaxAttempts <= 0:
		return 1
	case p.MaxAttempts > MaxConflictAttempts:
		return MaxConflictAttempts
	default:
		return p.MaxAttempts
	}
}

// Receipt reports the record after (or, on failure, as of) an operation.
type Receipt struct {
	SessionID string          `json:"session_id"`
	Balance   decimal.Decimal `json:"balance"`
	TabTotal  decimal.Decimal `json:"tab_total"`
	Status    Status          `json:"payment_status"`
	Version   int64           `json:"version"`
}

func receiptOf(st State) Receipt {
	return Receipt{
		SessionID: st.SessionID,
		Balance:   st.Balance,
		TabTotal:  st.TabTotal,
		Status:    st.Status,
		Version:   st.Version,
	}
}

// Config holds the configuration for a Processor.
type Config struct {
	Store Store
	Locks *session.Registry

	// InitialBalance is the balance of a session's first record. Zero
	// means DefaultBalance.
	InitialBalance decimal.Decimal
	Conflict       ConflictPolicy
	Logger         *slog.Logger
	Metrics        *metrics.Payments

	// OnPhase, if set, is called on every order phase transition.
	OnPhase func(sessionID string, phase Phase)
}

func (c Config) withDefaults() Config {
	if c.InitialBalance.IsZero() {
		c.InitialBalance = DefaultBalance
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Processor applies orders and payment completion to session records.
// Every write happens under the session lock and is committed against the
// version that was read.
type Processor struct {
	store   Store
	locks   *session.Registry
	initial decimal.Decimal
	policy  ConflictPolicy
	logger  *slog.Logger
	metrics *metrics.Payments
	onPhase func(string, Phase)
}

// NewProcessor creates a Processor.
func NewProcessor(cfg Config) (*Processor, error) {
	cfg = cfg.withDefaults()
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Locks == nil {
		return nil, ErrNoLocks
	}
	return &Processor{
		store:   cfg.Store,
		locks:   cfg.Locks,
		initial: cfg.InitialBalance,
		policy:  cfg.Conflict,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		onPhase: cfg.OnPhase,
	}, nil
}

// Store returns the underlying store.
func (p *Processor) Store() Store { return p.store }

// Locks returns the session lock registry.
func (p *Processor) Locks() *session.Registry { return p.locks }

// Load returns the session's record, or its initial record (version 0)
// when none was committed yet. It does not take the session lock.
func (p *Processor) Load(ctx context.Context, sessionID string) (State, error) {
	st, err := p.store.Load(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return NewState(sessionID, p.initial), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return st, nil
}

// AtomicOrderUpdate moves price from the session's balance to its tab.
func (p *Processor) AtomicOrderUpdate(ctx context.Context, sc session.Context, price decimal.Decimal) (Receipt, error) {
	if err := sc.Validate(); err != nil {
		return Receipt{}, err
	}
	if !price.IsPositive() {
		return Receipt{}, fmt.Errorf("%w: price must be positive, got %s", ErrInvalidAmount, price)
	}

	if err := p.acquire(ctx, sc.ID); err != nil {
		return Receipt{}, err
	}
	defer p.locks.Release(sc.ID)
	defer p.enter(sc.ID, PhaseIdle)

	log := p.logger.With(sc.LogAttrs()...)
	attempts := p.policy.attempts()
	for attempt := 1; ; attempt++ {
		p.enter(sc.ID, PhaseCheckingBalance)
		st, err := p.Load(ctx, sc.ID)
		if err != nil {
			p.metrics.OrderOutcome(metrics.OutcomeError)
			return Receipt{}, err
		}
		if st.Status == StatusCompleted {
			p.metrics.OrderOutcome(metrics.OutcomeError)
			return receiptOf(st), fmt.Errorf("order on session %s: %w", sc.ID, ErrSessionSettled)
		}
		if st.Balance.LessThan(price) {
			p.metrics.OrderOutcome(metrics.OutcomeInsufficientFunds)
			log.Info("order rejected", "reason", "insufficient_funds",
				"balance", st.Balance.StringFixed(2), "price", price.StringFixed(2))
			return receiptOf(st), fmt.Errorf("%w: balance %s, price %s",
				ErrInsufficientFunds, st.Balance.StringFixed(2), price.StringFixed(2))
		}

		p.enter(sc.ID, PhaseReservingFunds)
		next := st
		next.Balance = st.Balance.Sub(price)
		next.TabTotal = st.TabTotal.Add(price)

		committed, err := p.store.Commit(ctx, st.Version, next)
		switch {
		case err == nil:
			p.enter(sc.ID, PhaseFundsReserved)
			p.metrics.OrderOutcome(metrics.OutcomeCommitted)
			log.Debug("order committed", "price", price.StringFixed(2), "version", committed.Version)
			return receiptOf(committed), nil
		case errors.Is(err, ErrVersionConflict):
			p.metrics.Conflict()
			log.Warn("order version conflict", "attempt", attempt, "max_attempts", attempts, "version", st.Version)
			if attempt < attempts {
				continue
			}
			p.metrics.OrderOutcome(metrics.OutcomeConflict)
			return receiptOf(st), fmt.Errorf("order on session %s: %w", sc.ID, err)
		default:
			p.metrics.OrderOutcome(metrics.OutcomeError)
			return receiptOf(st), fmt.Errorf("committing order on session %s: %w", sc.ID, err)
		}
	}
}

// AtomicPaymentComplete zeroes the tab and marks the payment completed in
// one write. Completing an already settled session is a no-op. A tab that
// grew after its payment link was issued is refused with ErrTabChanged.
func (p *Processor) AtomicPaymentComplete(ctx context.Context, sc session.Context) (Receipt, error) {
	if err := sc.Validate(); err != nil {
		return Receipt{}, err
	}

	attempts := p.policy.attempts()
	for attempt := 1; ; attempt++ {
		wrote := false
		st, err := p.mutate(ctx, sc.ID, func(st State) (State, bool, error) {
			if st.Status == StatusCompleted && st.TabTotal.IsZero() && !st.NeedsReconciliation {
				return st, false, nil
			}
			if st.Status != StatusCompleted && !st.LinkCovers() {
				return st, false, fmt.Errorf("%w: link for %s, tab %s", ErrTabChanged,
					st.LinkAmount.StringFixed(2), st.TabTotal.StringFixed(2))
			}
			wrote = true
			next := st
			next.TabTotal = decimal.Zero
			next.Status = StatusCompleted
			next.NeedsReconciliation = false
			return next, true, nil
		})
		switch {
		case err == nil:
			if wrote {
				p.metrics.PaymentCompleted()
				p.logger.Info("payment completed", append(sc.LogAttrs(), "version", st.Version)...)
			}
			return receiptOf(st), nil
		case errors.Is(err, ErrVersionConflict):
			p.metrics.Conflict()
			p.logger.Warn("payment completion version conflict",
				append(sc.LogAttrs(), "attempt", attempt, "max_attempts", attempts)...)
			if attempt < attempts {
				continue
			}
			current, _ := p.Load(ctx, sc.ID)
			return receiptOf(current), fmt.Errorf("completing payment on session %s: %w", sc.ID, err)
		default:
			return Receipt{}, fmt.Errorf("completing payment on session %s: %w", sc.ID, err)
		}
	}
}

// Reset deletes the session's record and drops its lock.
func (p *Processor) Reset(ctx context.Context, sc session.Context) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := p.acquire(ctx, sc.ID); err != nil {
		return err
	}
	err := p.store.Delete(ctx, sc.ID)
	p.locks.Release(sc.ID)
	p.locks.Cleanup(sc.ID)
	if err != nil {
		return fmt.Errorf("resetting session %s: %w", sc.ID, err)
	}
	p.logger.Info("session reset", sc.LogAttrs()...)
	return nil
}

// mutate runs fn on the current record under the session lock and commits
// the record it returns. When fn reports no write, the current record is
// returned unchanged.
func (p *Processor) mutate(ctx context.Context, sessionID string, fn func(State) (State, bool, error)) (State, error) {
	if err := p.acquire(ctx, sessionID); err != nil {
		return State{}, err
	}
	defer p.locks.Release(sessionID)

	st, err := p.Load(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	next, write, err := fn(st)
	if err != nil || !write {
		return st, err
	}
	if err := checkTransition(st, next); err != nil {
		return st, err
	}
	return p.store.Commit(ctx, st.Version, next)
}

func (p *Processor) acquire(ctx context.Context, sessionID string) error {
	if _, err := p.locks.Acquire(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrSessionBusy, err)
	}
	return nil
}

func (p *Processor) enter(sessionID string, phase Phase) {
	if p.onPhase != nil {
		p.onPhase(sessionID, phase)
	}
}
