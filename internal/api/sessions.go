package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/session"
)

// channelHTTP tags sessions driven through this API in logs.
const channelHTTP = "http"

// resolveRequest is the body of POST /api/sessions/{id}/reconcile.
type resolveRequest struct {
	PaymentID      string `json:"payment_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// sessionFrom builds the session context of a request from its {id}.
func sessionFrom(r *http.Request) (session.Context, error) {
	sc := session.Context{
		ID:        chi.URLParam(r, "id"),
		Channel:   channelHTTP,
		RequestID: middleware.GetReqID(r.Context()),
	}
	return sc, sc.Validate()
}

// sessionHandler adapts a session operation to an HTTP handler.
func (m *Module) sessionHandler(op func(r *http.Request, sc session.Context) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sc, err := sessionFrom(r)
		if err != nil {
			writeEnvelope(w, nil, err)
			return
		}
		result, err := op(r, sc)
		if err != nil {
			m.logger.Debug("session operation failed", append(sc.LogAttrs(), "path", r.URL.Path, "error", err)...)
		}
		writeEnvelope(w, result, err)
	}
}

func (m *Module) handleGetTab() http.HandlerFunc {
	return m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
		return m.svc.Tab(r.Context(), sc)
	})
}

// handleResetSession deletes the session and returns its fresh tab.
func (m *Module) handleResetSession() http.HandlerFunc {
	return m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
		if err := m.svc.Reset(r.Context(), sc); err != nil {
			return nil, err
		}
		return m.svc.Tab(r.Context(), sc)
	})
}

func (m *Module) handleAddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item checkout.Item
		if err := decodeBody(r, m.config, &item); err != nil {
			badRequest(w, err)
			return
		}
		m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
			return m.svc.AddItem(r.Context(), sc, item)
		})(w, r)
	}
}

func (m *Module) handleStartCheckout() http.HandlerFunc {
	return m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
		return m.svc.StartCheckout(r.Context(), sc)
	})
}

func (m *Module) handleSettle() http.HandlerFunc {
	return m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
		return m.svc.Settle(r.Context(), sc)
	})
}

func (m *Module) handleCompletePayment() http.HandlerFunc {
	return m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
		return m.svc.CompletePayment(r.Context(), sc)
	})
}

func (m *Module) handleResolve() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := decodeBody(r, m.config, &req); err != nil {
			badRequest(w, err)
			return
		}
		m.sessionHandler(func(r *http.Request, sc session.Context) (any, error) {
			return m.svc.Resolve(r.Context(), sc, payment.Resolution{
				PaymentID:      req.PaymentID,
				IdempotencyKey: req.IdempotencyKey,
			})
		})(w, r)
	}
}

// handleReconciliation lists sessions waiting for an operator.
func (m *Module) handleReconciliation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := m.svc.Reconciliation(r.Context())
		writeEnvelope(w, report, err)
	}
}
