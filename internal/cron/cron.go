// Package cron schedules the periodic maintenance of the payment engine:
// reaping idle session locks, expiring stale payment records and
// persisting parked reconciliation flags.
package cron

import "context"

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job.
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes the job. Implementations should honour ctx.
	Run(ctx context.Context) error
}
