package payment

import (
	"context"
	"time"
)

// StoreService is the service name under which store modules publish a Store.
const StoreService = "payment.store"

// Store persists payment records with optimistic concurrency.
//
// Commit writes next only if the stored version equals expected (zero
// meaning "no record yet"), assigns next.Version = expected+1 and returns
// the committed record. Any other stored version yields ErrVersionConflict
// and leaves the store unchanged. Two commits against the same expected
// version never both succeed.
type Store interface {
	Load(ctx context.Context, sessionID string) (State, error)
	Commit(ctx context.Context, expected int64, next State) (State, error)
	Delete(ctx context.Context, sessionID string) error
	// Flagged returns every record with NeedsReconciliation set, ordered
	// by session id.
	Flagged(ctx context.Context) ([]State, error)
	// Prune removes records not written for longer than maxIdle and
	// returns how many were removed.
	Prune(ctx context.Context, maxIdle time.Duration) (int, error)
	Len(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}
