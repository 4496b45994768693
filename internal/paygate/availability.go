package paygate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultAvailabilityTTL = 30 * time.Second
	defaultProbeTimeout    = 5 * time.Second
)

// availabilityState is the cached result of the last probe.
type availabilityState int

const (
	availabilityUnknown availabilityState = iota
	availabilityUp
	availabilityDown
)

// String returns a human-readable label for the state.
func (s availabilityState) String() string {
	switch s {
	case availabilityUp:
		return "available"
	case availabilityDown:
		return "unavailable"
	default:
		return "unknown"
	}
}

// availability caches gateway reachability for ttl. Concurrent callers
// that miss the cache share a single probe.
type availability struct {
	ttl          time.Duration
	probeTimeout time.Duration
	probe        func(ctx context.Context) bool
	clock        Clock

	// onStateChange is called outside the lock whenever the cached state
	// transitions.
	onStateChange func(from, to availabilityState)

	group singleflight.Group

	mu        sync.Mutex
	state     availabilityState
	checkedAt time.Time
}

func newAvailability(ttl, probeTimeout time.Duration, clock Clock, probe func(context.Context) bool) *availability {
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &availability{
		ttl:          ttl,
		probeTimeout: probeTimeout,
		probe:        probe,
		clock:        clock,
	}
}

// get returns the cached state, probing when it is unknown or expired.
func (a *availability) get(ctx context.Context) bool {
	a.mu.Lock()
	if a.state != availabilityUnknown && a.clock.Now().Sub(a.checkedAt) < a.ttl {
		up := a.state == availabilityUp
		a.mu.Unlock()
		return up
	}
	a.mu.Unlock()

	v, _, _ := a.group.Do("probe", func() (any, error) {
		// The probe is shared, so one caller's cancellation must not
		// decide the result for the others.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.probeTimeout)
		defer cancel()
		up := a.probe(pctx)
		a.record(up)
		return up, nil
	})
	return v.(bool)
}

// record stores an observation made outside a probe, such as a link
// creation that succeeded or exhausted its retries.
func (a *availability) record(up bool) {
	next := availabilityDown
	if up {
		next = availabilityUp
	}

	a.mu.Lock()
	prev := a.state
	a.state = next
	a.checkedAt = a.clock.Now()
	a.mu.Unlock()

	if prev != next && a.onStateChange != nil {
		a.onStateChange(prev, next)
	}
}

// invalidate forces the next get to probe.
func (a *availability) invalidate() {
	a.mu.Lock()
	a.state = availabilityUnknown
	a.mu.Unlock()
}

// State returns the cached state.
func (a *availability) State() availabilityState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
