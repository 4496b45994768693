package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Metrics tracks API-level counters using atomic operations for lock-free
// concurrency. All methods are safe on a nil *Metrics.
type Metrics struct {
	requests     atomic.Int64
	clientErrors atomic.Int64
	serverErrors atomic.Int64
	webhooks     atomic.Int64
	streams      atomic.Int64
	totalLatency atomic.Int64 // nanoseconds
}

// RecordRequest records one served request.
func (m *Metrics) RecordRequest(status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.Add(1)
	m.totalLatency.Add(int64(latency))
	switch {
	case status >= 500:
		m.serverErrors.Add(1)
	case status >= 400:
		m.clientErrors.Add(1)
	}
}

// RecordWebhook records an inbound webhook delivery.
func (m *Metrics) RecordWebhook() {
	if m == nil {
		return
	}
	m.webhooks.Add(1)
}

// StreamOpened and StreamClosed track live event streams.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.streams.Add(1)
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.streams.Add(-1)
	}
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := m.requests.Load()
	snap := MetricsSnapshot{
		Requests:     requests,
		ClientErrors: m.clientErrors.Load(),
		ServerErrors: m.serverErrors.Load(),
		Webhooks:     m.webhooks.Load(),
		Streams:      m.streams.Load(),
	}
	if requests > 0 {
		snap.AvgLatency = time.Duration(m.totalLatency.Load() / requests)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Requests     int64         `json:"requests"`
	ClientErrors int64         `json:"client_errors"`
	ServerErrors int64         `json:"server_errors"`
	Webhooks     int64         `json:"webhooks"`
	Streams      int64         `json:"streams"`
	AvgLatency   time.Duration `json:"avg_latency_ns"`
}

// metricsMiddleware records status and latency of every request.
func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.RecordRequest(status, time.Since(start))
		})
	}
}
