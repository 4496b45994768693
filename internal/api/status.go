package api

import (
	"net/http"
	"time"

	"github.com/flemzord/tabkeeper/internal/metrics"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version        string           `json:"version,omitempty"`
	Uptime         time.Duration    `json:"uptime_seconds"`
	HTTP           MetricsSnapshot  `json:"http"`
	Payments       metrics.Snapshot `json:"payments"`
	Locks          int              `json:"locks"`
	Subscribers    int              `json:"subscribers"`
	EventsDropped  int64            `json:"events_dropped"`
	WebhookSources int              `json:"webhook_sources"`
	PendingFlags   int              `json:"pending_flags"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (m *Module) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		bus := m.svc.Bus()
		resp := StatusResponse{
			Version:        m.version,
			Uptime:         time.Since(m.startedAt).Truncate(time.Second),
			HTTP:           m.metrics.Snapshot(),
			Payments:       m.payments.Snapshot(),
			Locks:          m.svc.Processor().Locks().Len(),
			Subscribers:    bus.Subscribers(),
			EventsDropped:  bus.Dropped(),
			WebhookSources: m.dispatcher.Sources(),
			PendingFlags:   len(m.svc.Reconciler().Pending()),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
