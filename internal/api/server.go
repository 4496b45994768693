package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (m *Module) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metricsMiddleware(m.metrics))
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", m.handleHealth())
	if m.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}

	// Webhooks carry their own HMAC per source.
	r.Post("/webhooks/{source}", m.dispatcher.ServeHTTP)

	// Session endpoints move money and are not mounted without auth.
	if !m.config.Auth.IsConfigured() {
		m.logger.Warn("api auth not configured, session endpoints disabled")
		return r
	}
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(m.config.Auth, m.audit))
		r.Get("/status", m.handleStatus())
		r.Route("/api", func(r chi.Router) {
			r.Get("/reconciliation", m.handleReconciliation())
			r.Route("/sessions/{id}", func(r chi.Router) {
				r.Get("/", m.handleGetTab())
				r.Delete("/", m.handleResetSession())
				r.Post("/items", m.handleAddItem())
				r.Post("/checkout", m.handleStartCheckout())
				r.Post("/settle", m.handleSettle())
				r.Post("/complete", m.handleCompletePayment())
				r.Post("/reconcile", m.handleResolve())
			})
		})
		r.Get("/ws/sessions/{id}/events", m.handleEvents())
		if m.mcp != nil {
			r.Handle(m.mcp.Path(), m.mcp.Handler())
		}
	})

	return r
}
