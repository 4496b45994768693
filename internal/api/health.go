package api

import (
	"context"
	"net/http"
	"time"
)

const healthProbeTimeout = 2 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Store   string `json:"store"`
	Gateway bool   `json:"gateway_available"`
	Locks   int    `json:"locks"`
}

// handleHealth returns 200 when the payment store answers and 503
// otherwise. An unavailable payment gateway does not degrade health
// because checkouts fall back to simulated links.
func (m *Module) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Store: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()

		proc := m.svc.Processor()
		if err := proc.Store().Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
		}
		resp.Gateway = m.svc.Gateway().IsAvailable(ctx)
		resp.Locks = proc.Locks().Len()

		status := http.StatusOK
		if resp.Status == "degraded" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
