package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/session"
)

var errStoreDown = errors.New("store down")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustSession(t *testing.T, id string) session.Context {
	t.Helper()
	sc, err := session.New(id)
	if err != nil {
		t.Fatalf("session.New(%q): %v", id, err)
	}
	return sc
}

func newTestProcessor(t *testing.T, store Store, cfg Config) *Processor {
	t.Helper()
	cfg.Store = store
	if cfg.Locks == nil {
		cfg.Locks = session.NewRegistry()
	}
	p, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

// flakyStore fails commits whose next record matches failIf while broken
// is set.
type flakyStore struct {
	*MemoryStore
	broken  atomic.Bool
	failIf  func(next State) bool
	commits atomic.Int64
}

func newFlakyStore(failIf func(State) bool) *flakyStore {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failIf: failIf}
	fs.broken.Store(true)
	return fs
}

func (f *flakyStore) Commit(ctx context.Context, expected int64, next State) (State, error) {
	f.commits.Add(1)
	if f.broken.Load() && (f.failIf == nil || f.failIf(next)) {
		return State{}, errStoreDown
	}
	return f.MemoryStore.Commit(ctx, expected, next)
}

// barrierStore holds every Load until n of them happened, so n writers
// read the same version before any of them commits.
type barrierStore struct {
	*MemoryStore
	n     int
	mu    sync.Mutex
	loads int
	ready chan struct{}
}

func newBarrierStore(inner *MemoryStore, n int) *barrierStore {
	return &barrierStore{MemoryStore: inner, n: n, ready: make(chan struct{})}
}

func (b *barrierStore) Load(ctx context.Context, id string) (State, error) {
	st, err := b.MemoryStore.Load(ctx, id)
	b.mu.Lock()
	b.loads++
	if b.loads == b.n {
		close(b.ready)
	}
	b.mu.Unlock()

	select {
	case <-b.ready:
	case <-time.After(5 * time.Second):
		return State{}, errors.New("barrier timeout")
	}
	return st, err
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func (s *sleepRecorder) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
