package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/session"
)

// mockWebhookHandler is a test helper that records calls.
type mockWebhookHandler struct {
	called bool
	source string
	body   []byte
	err    error
}

func (m *mockWebhookHandler) HandleWebhook(_ context.Context, source string, body []byte, _ http.Header) (any, error) {
	m.called = true
	m.source = source
	m.body = body
	return map[string]string{"source": source}, m.err
}

func newDispatcherRouter(d *WebhookDispatcher) http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{source}", d.ServeHTTP)
	return r
}

func postWebhook(h http.Handler, source string, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+source, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestWebhookDispatcher_RegisteredSource_ValidHMAC(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{}
	d := NewWebhookDispatcher(testLogger(), 0, 0)
	d.Register("stripe", handler, "my-secret")

	body := []byte(`{"payment_id":"plink_1"}`)
	rr := postWebhook(newDispatcherRouter(d), "stripe", body, Sign(body, "my-secret"))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !handler.called || handler.source != "stripe" || string(handler.body) != string(body) {
		t.Errorf("handler = %+v", handler)
	}
}

func TestWebhookDispatcher_UnregisteredSource(t *testing.T) {
	t.Parallel()

	d := NewWebhookDispatcher(testLogger(), 0, 0)
	rr := postWebhook(newDispatcherRouter(d), "unknown", []byte(`{}`), "")

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d (unregistered source returns 404)", rr.Code, http.StatusNotFound)
	}
}

func TestWebhookDispatcher_InvalidHMAC(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{}
	d := NewWebhookDispatcher(testLogger(), 0, 0)
	d.Register("stripe", handler, "my-secret")

	rr := postWebhook(newDispatcherRouter(d), "stripe", []byte(`{"data":"test"}`), "sha256=invalid")

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if handler.called {
		t.Error("handler should not be called with invalid HMAC")
	}
}

func TestWebhookDispatcher_WrongMethod(t *testing.T) {
	t.Parallel()

	d := NewWebhookDispatcher(testLogger(), 0, 0)
	req := httptest.NewRequest(http.MethodGet, "/webhooks/test", nil)
	rr := httptest.NewRecorder()
	newDispatcherRouter(d).ServeHTTP(rr, req)

	// chi won't route GET to a POST handler.
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebhookDispatcher_NoSecretConfigured(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{}
	d := NewWebhookDispatcher(testLogger(), 0, 0)
	d.Register("open", handler, "")

	rr := postWebhook(newDispatcherRouter(d), "open", []byte(`{"data":"test"}`), "")
	if rr.Code != http.StatusOK || !handler.called {
		t.Errorf("status = %d, called = %v", rr.Code, handler.called)
	}
}

func TestWebhookDispatcher_HandlerError(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{err: errors.New("handler failed")}
	d := NewWebhookDispatcher(testLogger(), 0, 0)
	d.Register("failing", handler, "")

	rr := postWebhook(newDispatcherRouter(d), "failing", []byte(`{"data":"test"}`), "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
}

func TestWebhookDispatcher_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{}
	d := NewWebhookDispatcher(testLogger(), 16, 0)
	d.Register("open", handler, "")

	rr := postWebhook(newDispatcherRouter(d), "open", []byte(`{"data":"much more than sixteen bytes"}`), "")
	if rr.Code != http.StatusBadRequest || handler.called {
		t.Errorf("status = %d, called = %v", rr.Code, handler.called)
	}
}

func TestWebhookDispatcher_UnclosedJSONRejected(t *testing.T) {
	t.Parallel()

	handler := &mockWebhookHandler{}
	d := NewWebhookDispatcher(testLogger(), 0, 0)
	d.Register("open", handler, "")

	rr := postWebhook(newDispatcherRouter(d), "open", []byte(`{"payment_id":"plink_1"`), "")
	if rr.Code != http.StatusBadRequest || handler.called {
		t.Errorf("status = %d, called = %v", rr.Code, handler.called)
	}
}

func TestReadBody_ZeroLimitsUseDefaults(t *testing.T) {
	t.Parallel()

	body := `{"item":"espresso","price":"3.50"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	got, err := readBody(req, 0, 0)
	if err != nil || string(got) != body {
		t.Errorf("readBody = %q, %v; want the full body", got, err)
	}
}

func TestValidateHMAC(t *testing.T) {
	t.Parallel()

	body := []byte("test payload")
	secret := "test-secret"

	if !validateHMAC(body, Sign(body, secret), secret) {
		t.Error("valid HMAC should pass")
	}
	if validateHMAC(body, Sign(body, "other"), secret) {
		t.Error("HMAC with another secret should fail")
	}
	if validateHMAC(body, "", secret) {
		t.Error("empty signature should fail")
	}
}

func TestPaymentWebhook_CompletesSession(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, Config{Webhooks: map[string]WebhookSourceCfg{"stripe": {Secret: "whsec"}}})
	e.do(t, http.MethodPost, "/api/sessions/tg:9/items", `{"name":"pizza","price":"20"}`)
	if rr := e.do(t, http.MethodPost, "/api/sessions/tg:9/checkout", ""); rr.Code != http.StatusOK {
		t.Fatalf("checkout = %d %s", rr.Code, rr.Body)
	}

	// A push for another payment is refused.
	body := []byte(`{"payment_id":"plink_other","session_id":"tg:9","status":"succeeded"}`)
	rr := postWebhook(e.handler, "stripe", body, Sign(body, "whsec"))
	if env := decodeEnvelope(t, rr); rr.Code != http.StatusUnprocessableEntity || env.Error != string(payment.CodePaymentFailed) {
		t.Errorf("mismatched webhook = %d %+v", rr.Code, env)
	}

	body = []byte(`{"payment_id":"plink_test","session_id":"tg:9","status":"succeeded"}`)
	rr = postWebhook(e.handler, "stripe", body, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unsigned webhook = %d, want 401", rr.Code)
	}

	rr = postWebhook(e.handler, "stripe", body, Sign(body, "whsec"))
	var view payment.View
	_ = json.Unmarshal(decodeEnvelope(t, rr).Result, &view)
	if rr.Code != http.StatusOK || view.Status != payment.StatusCompleted || view.Balance != "980.00" || view.TabTotal != "0.00" {
		t.Fatalf("webhook = %d %s", rr.Code, rr.Body)
	}

	sc, _ := session.New("tg:9")
	got, err := e.svc.Tab(context.Background(), sc)
	if err != nil || got.Status != payment.StatusCompleted {
		t.Errorf("tab after webhook = %+v, %v", got, err)
	}
	if snap := e.module.metrics.Snapshot(); snap.Webhooks != 3 {
		t.Errorf("webhooks = %d, want 3", snap.Webhooks)
	}
}

func TestPaymentWebhook_MalformedBody(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, Config{Webhooks: map[string]WebhookSourceCfg{"stripe": {Secret: "whsec"}}})
	body := []byte(`["not","an","event"]`)
	rr := postWebhook(e.handler, "stripe", body, Sign(body, "whsec"))
	if env := decodeEnvelope(t, rr); rr.Code != http.StatusUnprocessableEntity || env.Error != string(payment.CodePaymentFailed) {
		t.Errorf("malformed webhook = %d %+v", rr.Code, env)
	}
}
