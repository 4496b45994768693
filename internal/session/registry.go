package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount partitions the registry so lookups for unrelated sessions
// rarely contend on the same mutex.
const shardCount = 32

// DefaultIdleTimeout is how long an unused lock survives before Sweep
// reclaims it.
const DefaultIdleTimeout = time.Hour

// Lock is the exclusive lock for one session. The same *Lock is returned
// for an identifier until the entry is removed by Cleanup or Sweep.
//
// refs counts goroutines holding or waiting on the lock; stale marks an
// entry whose removal was requested while it was in use. Both fields and
// lastUsed are guarded by the owning shard's mutex.
type Lock struct {
	sem      chan struct{}
	refs     int
	stale    bool
	lastUsed time.Time
}

func newLock(now time.Time) *Lock {
	return &Lock{sem: make(chan struct{}, 1), lastUsed: now}
}

func (l *Lock) lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryUnlock frees the lock if it is held and reports whether it was.
func (l *Lock) tryUnlock() bool {
	select {
	case <-l.sem:
		return true
	default:
		return false
	}
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// Registry hands out one Lock per session identifier.
//
// Each shard mutex is held only to look up, insert or remove an entry,
// never across the caller's critical section. Entries are removed only
// explicitly (Cleanup) or by the idle sweep, and never while referenced,
// so two holders can never end up with different locks for one session.
type Registry struct {
	shards [shardCount]shard

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// NewRegistry creates a ready-to-use Registry.
func NewRegistry() *Registry {
	r := &Registry{now: time.Now}
	for i := range r.shards {
		r.shards[i].locks = make(map[string]*Lock)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// getOrCreate must be called with sh.mu held.
func (sh *shard) getOrCreate(id string, now time.Time) *Lock {
	l, ok := sh.locks[id]
	if !ok {
		l = newLock(now)
		sh.locks[id] = l
	}
	return l
}

// LockFor returns the lock for id, creating it if absent. It does not
// acquire the lock.
func (r *Registry) LockFor(id string) *Lock {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l := sh.getOrCreate(id, r.now())
	l.lastUsed = r.now()
	return l
}

// Acquire locks the session identified by id, waiting until the current
// holder releases it or ctx is done. On success the caller must call
// Release with the same id.
func (r *Registry) Acquire(ctx context.Context, id string) (*Lock, error) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	l := sh.getOrCreate(id, r.now())
	l.refs++
	sh.mu.Unlock()

	// Wait outside the shard mutex so other sessions are not blocked.
	if err := l.lock(ctx); err != nil {
		r.unref(sh, id, l)
		return nil, err
	}
	return l, nil
}

// Release unlocks the session identified by id. Releasing a lock that is
// not held is a no-op.
func (r *Registry) Release(id string) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.locks[id]
	if !ok || l.refs == 0 || !l.tryUnlock() {
		return
	}
	l.refs--
	l.lastUsed = r.now()
	if l.refs == 0 && l.stale {
		delete(sh.locks, id)
	}
}

// WithLock runs fn while holding the lock for id.
func (r *Registry) WithLock(ctx context.Context, id string, fn func() error) error {
	if _, err := r.Acquire(ctx, id); err != nil {
		return err
	}
	defer r.Release(id)
	return fn()
}

func (r *Registry) unref(sh *shard, id string, l *Lock) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l.refs--
	if l.refs == 0 && l.stale && sh.locks[id] == l {
		delete(sh.locks, id)
	}
}

// Cleanup removes the lock entry for id. It is a no-op for unknown ids.
// A lock that is currently held or awaited is marked stale instead and
// removed when its last holder releases it.
func (r *Registry) Cleanup(id string) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	l, ok := sh.locks[id]
	if !ok {
		return
	}
	if l.refs == 0 {
		delete(sh.locks, id)
		return
	}
	l.stale = true
}

// Sweep removes locks that nobody holds or waits on and that have been
// unused for longer than idle. It returns the number of entries removed.
func (r *Registry) Sweep(idle time.Duration) int {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	now := r.now()
	removed := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for id, l := range sh.locks {
			if l.refs == 0 && now.Sub(l.lastUsed) > idle {
				delete(sh.locks, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of lock entries across all shards.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
