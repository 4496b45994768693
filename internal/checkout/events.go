package checkout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/tabkeeper/internal/payment"
)

// EventType names a session change pushed to subscribers.
type EventType string

// Event types.
const (
	EventItemAdded              EventType = "item_added"
	EventCheckoutStarted        EventType = "checkout_started"
	EventPaymentCompleted       EventType = "payment_completed"
	EventPaymentFailed          EventType = "payment_failed"
	EventPaymentTimeout         EventType = "payment_timeout"
	EventReconciliationRequired EventType = "reconciliation_required"
	EventReconciliationResolved EventType = "reconciliation_resolved"
	EventSessionReset           EventType = "session_reset"
)

// Event is a snapshot of a session right after a change.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Balance   string         `json:"balance"`
	TabTotal  string         `json:"tab_total"`
	Status    payment.Status `json:"payment_status"`
	Version   int64          `json:"version"`
	PaymentID string         `json:"payment_id,omitempty"`
	LinkURL   string         `json:"link_url,omitempty"`
	At        time.Time      `json:"at"`
}

func eventOf(typ EventType, st payment.State, at time.Time) Event {
	return Event{
		Type:      typ,
		SessionID: st.SessionID,
		Balance:   st.Balance.StringFixed(2),
		TabTotal:  st.TabTotal.StringFixed(2),
		Status:    st.Status,
		Version:   st.Version,
		PaymentID: st.PaymentID,
		At:        at,
	}
}

const defaultSubscriberBuffer = 16

// Bus fans events out to per-session subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	dropped atomic.Int64
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for events of sessionID, or of every session when
// sessionID is empty. The returned cancel func unsubscribes and closes
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(sessionID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	set := b.subs[sessionID]
	if set == nil {
		set = make(map[*subscriber]struct{})
		b.subs[sessionID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		delete(b.subs[sessionID], s)
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
		close(s.ch)
	}
}

// Publish delivers ev to the session's subscribers and to wildcard ones.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, key := range [2]string{ev.SessionID, ""} {
		for s := range b.subs[key] {
			select {
			case s.ch <- ev:
			default:
				b.dropped.Add(1)
			}
		}
		if ev.SessionID == "" {
			break
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
