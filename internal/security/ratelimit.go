package security

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("security: rate limit exceeded")

// Rate limit kinds.
const (
	KindOrder    = "order"
	KindCheckout = "checkout"
	KindToolCall = "tool_call"
	KindWebhook  = "webhook"
)

// RateLimitConfig holds per-minute limits. Zero fields take defaults;
// a negative value disables that kind.
type RateLimitConfig struct {
	OrdersPerMin    int `yaml:"orders_per_min"`
	CheckoutsPerMin int `yaml:"checkouts_per_min"`
	ToolCallsPerMin int `yaml:"tool_calls_per_min"`
	WebhooksPerMin  int `yaml:"webhooks_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		OrdersPerMin:    60,
		CheckoutsPerMin: 10,
		ToolCallsPerMin: 500,
		WebhooksPerMin:  600,
	}
}

// RateLimiter is a sliding window limiter keyed by kind and caller key
// (usually a session id), so one noisy session cannot starve the rest.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[string]int
	window  time.Duration
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

type bucketKey struct {
	kind string
	key  string
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	d := rateLimitConfigDefaults()
	pick := func(v, def int) int {
		if v == 0 {
			return def
		}
		return v
	}
	limits := map[string]int{
		KindOrder:    pick(cfg.OrdersPerMin, d.OrdersPerMin),
		KindCheckout: pick(cfg.CheckoutsPerMin, d.CheckoutsPerMin),
		KindToolCall: pick(cfg.ToolCallsPerMin, d.ToolCallsPerMin),
		KindWebhook:  pick(cfg.WebhooksPerMin, d.WebhooksPerMin),
	}
	return &RateLimiter{
		limits:  limits,
		window:  time.Minute,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Allow records one event of kind for key. It returns nil when allowed
// and a wrapped ErrRateLimited otherwise. Unknown or disabled kinds are
// always allowed. A nil limiter allows everything.
func (rl *RateLimiter) Allow(kind, key string) error {
	if rl == nil {
		return nil
	}
	limit, ok := rl.limits[kind]
	if !ok || limit < 0 {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	k := bucketKey{kind: kind, key: key}
	b := rl.buckets[k]
	if b == nil {
		b = &bucket{}
		rl.buckets[k] = b
	}

	now := rl.now()
	b.evict(now.Add(-rl.window))
	if len(b.events) >= limit {
		return fmt.Errorf("%w: %s for %q (max %d/min)", ErrRateLimited, kind, key, limit)
	}
	b.events = append(b.events, now)
	return nil
}

// Sweep drops buckets with no events inside the window and returns how
// many were removed.
func (rl *RateLimiter) Sweep() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	removed := 0
	for k, b := range rl.buckets {
		b.evict(cutoff)
		if len(b.events) == 0 {
			delete(rl.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// evict removes events before cutoff. Events are chronological.
func (b *bucket) evict(cutoff time.Time) {
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
