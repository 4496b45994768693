package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a concurrency-safe, in-memory Store. The now function is
// injectable for deterministic pruning tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]State),
		now:    time.Now,
	}
}

// Load returns the record for sessionID or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[sessionID]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

// Commit performs the versioned compare-and-write.
func (s *MemoryStore) Commit(_ context.Context, expected int64, next State) (State, error) {
	next.Version = expected + 1
	if err := next.Validate(); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if st, ok := s.states[next.SessionID]; ok {
		current = st.Version
	}
	if current != expected {
		return State{}, ErrVersionConflict
	}

	next.UpdatedAt = s.now()
	s.states[next.SessionID] = next
	return next, nil
}

// Delete removes the record. It is a no-op if none exists.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

// Flagged returns records awaiting reconciliation.
func (s *MemoryStore) Flagged(_ context.Context) ([]State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []State
	for _, st := range s.states {
		if st.NeedsReconciliation {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Prune removes records whose last write is older than maxIdle. Flagged
// records are kept so an operator can still reconcile them.
func (s *MemoryStore) Prune(_ context.Context, maxIdle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	pruned := 0
	for id, st := range s.states {
		if st.NeedsReconciliation {
			continue
		}
		if now.Sub(st.UpdatedAt) > maxIdle {
			delete(s.states, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }
