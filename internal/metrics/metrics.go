// Package metrics exposes Prometheus collectors for the payment engine and
// a lock-free counter snapshot for the status endpoint.
//
// All recording methods are safe to call on a nil *Payments, so components
// can be constructed without metrics in tests.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabkeeper"

// Service names under which the process-wide registry and collectors
// are published to modules.
const (
	RegistryService = "metrics.registry"
	PaymentsService = "metrics.payments"
)

// Order outcomes recorded by OrderOutcome.
const (
	OutcomeCommitted         = "committed"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeConflict          = "conflict"
	OutcomeError             = "error"
)

// Payments holds every collector the engine records into.
type Payments struct {
	reg prometheus.Registerer

	orders          *prometheus.CounterVec
	conflicts       prometheus.Counter
	completed       prometheus.Counter
	gatewayAttempts *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	pollResults     *prometheus.CounterVec
	reconFlags      prometheus.Counter
	reconPending    prometheus.Gauge

	snapOrders    atomic.Int64
	snapConflicts atomic.Int64
	snapCompleted atomic.Int64
	snapFallbacks atomic.Int64
	snapFlags     atomic.Int64
}

// NewPayments creates the collectors and registers them on reg. A nil reg
// yields working but unregistered collectors.
func NewPayments(reg prometheus.Registerer) *Payments {
	f := promauto.With(reg)
	return &Payments{
		reg: reg,
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order updates by outcome.",
		}, []string{"outcome"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_conflicts_total",
			Help:      "Version conflicts observed on local state writes.",
		}),
		completed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_completed_total",
			Help:      "Payments marked completed.",
		}),
		gatewayAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paygate_attempts_total",
			Help:      "Payment gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		gatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "paygate_request_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paygate_fallbacks_total",
			Help:      "Payment links served by the simulated fallback, by reason.",
		}, []string{"reason"}),
		pollResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paygate_poll_results_total",
			Help:      "Status polling results.",
		}, []string{"status"}),
		reconFlags: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_flags_total",
			Help:      "Sessions flagged for manual reconciliation.",
		}),
		reconPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_pending",
			Help:      "Reconciliation flags waiting to be persisted.",
		}),
	}
}

// RegisterLockGauge exposes the live session lock count. It is a no-op
// when the collectors were built without a registerer.
func (m *Payments) RegisterLockGauge(fn func() float64) {
	if m == nil || m.reg == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_locks",
		Help:      "Session locks currently held in the registry.",
	}, fn)
}

// OrderOutcome records one order update.
func (m *Payments) OrderOutcome(outcome string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
	m.snapOrders.Add(1)
}

// Conflict records a version conflict on a local write.
func (m *Payments) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
	m.snapConflicts.Add(1)
}

// PaymentCompleted records a settled tab.
func (m *Payments) PaymentCompleted() {
	if m == nil {
		return
	}
	m.completed.Inc()
	m.snapCompleted.Add(1)
}

// GatewayCall records one gateway call.
func (m *Payments) GatewayCall(op, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(op).Observe(latency.Seconds())
}

// Fallback records a simulated payment link.
func (m *Payments) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
	m.snapFallbacks.Add(1)
}

// PollResult records the final result of a status poll.
func (m *Payments) PollResult(status string) {
	if m == nil {
		return
	}
	m.pollResults.WithLabelValues(status).Inc()
}

// ReconciliationFlagged records a session flagged for reconciliation.
func (m *Payments) ReconciliationFlagged() {
	if m == nil {
		return
	}
	m.reconFlags.Inc()
	m.snapFlags.Add(1)
}

// SetReconciliationPending sets the number of unpersisted flags.
func (m *Payments) SetReconciliationPending(n int) {
	if m == nil {
		return
	}
	m.reconPending.Set(float64(n))
}

// Snapshot returns a point-in-time view of the main counters.
func (m *Payments) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Orders:          m.snapOrders.Load(),
		Conflicts:       m.snapConflicts.Load(),
		Completed:       m.snapCompleted.Load(),
		Fallbacks:       m.snapFallbacks.Load(),
		Reconciliations: m.snapFlags.Load(),
	}
}

// Snapshot is a serializable point-in-time metrics view.
type Snapshot struct {
	Orders          int64 `json:"orders"`
	Conflicts       int64 `json:"conflicts"`
	Completed       int64 `json:"completed"`
	Fallbacks       int64 `json:"fallbacks"`
	Reconciliations int64 `json:"reconciliations"`
}
