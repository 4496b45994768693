package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job names.
const (
	LockReaperJobName     = "session_lock_reaper"
	StateExpiryJobName    = "payment_state_expiry"
	ReconciliationJobName = "reconciliation_sweep"
)

// LockSweeper drops session locks idle for longer than idle.
type LockSweeper interface {
	SweepLocks(idle time.Duration) int
}

// StateExpirer removes payment records past their retention.
type StateExpirer interface {
	ExpireStates(ctx context.Context) (int, error)
}

// ReconciliationSweeper persists parked reconciliation flags and reports
// how many sessions remain flagged.
type ReconciliationSweeper interface {
	SweepReconciliation(ctx context.Context) (applied, flagged int, err error)
}

// LockReaperJob reclaims idle session locks.
type LockReaperJob struct {
	Sweeper      LockSweeper
	MaxIdle      time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = "*/5 * * * *"
}

var _ Job = (*LockReaperJob)(nil)

// Name implements Job.
func (j *LockReaperJob) Name() string { return LockReaperJobName }

// Schedule implements Job.
func (j *LockReaperJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run implements Job.
func (j *LockReaperJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: lock reaper cancelled: %w", ctx.Err())
	}
	if n := j.Sweeper.SweepLocks(j.MaxIdle); n > 0 {
		j.Logger.Info("cron: reaped idle session locks", "count", n, "max_idle", j.MaxIdle)
	}
	return nil
}

// StateExpiryJob prunes stale payment records. Flagged records survive.
type StateExpiryJob struct {
	Expirer      StateExpirer
	Logger       *slog.Logger
	ScheduleExpr string // empty = "17 * * * *"
}

var _ Job = (*StateExpiryJob)(nil)

// Name implements Job.
func (j *StateExpiryJob) Name() string { return StateExpiryJobName }

// Schedule implements Job.
func (j *StateExpiryJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "17 * * * *"
}

// Run implements Job.
func (j *StateExpiryJob) Run(ctx context.Context) error {
	n, err := j.Expirer.ExpireStates(ctx)
	if err != nil {
		return fmt.Errorf("cron: expiring payment states: %w", err)
	}
	if n > 0 {
		j.Logger.Info("cron: expired payment states", "count", n)
	}
	return nil
}

// ReconciliationSweepJob retries parked flags and warns while sessions
// wait for an operator.
type ReconciliationSweepJob struct {
	Sweeper      ReconciliationSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = every minute
}

var _ Job = (*ReconciliationSweepJob)(nil)

// Name implements Job.
func (j *ReconciliationSweepJob) Name() string { return ReconciliationJobName }

// Schedule implements Job.
func (j *ReconciliationSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run implements Job.
func (j *ReconciliationSweepJob) Run(ctx context.Context) error {
	applied, flagged, err := j.Sweeper.SweepReconciliation(ctx)
	if applied > 0 {
		j.Logger.Info("cron: persisted parked reconciliation flags", "count", applied)
	}
	if flagged > 0 {
		j.Logger.Warn("cron: sessions awaiting reconciliation", "count", flagged)
	}
	if err != nil {
		return fmt.Errorf("cron: reconciliation sweep: %w", err)
	}
	return nil
}
