package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/paygate/paygatetest"
	"github.com/flemzord/tabkeeper/internal/session"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type testEnv struct {
	module  *Module
	svc     *checkout.Service
	backend *paygatetest.Backend
	appCtx  *core.AppContext
	handler http.Handler
}

// newTestEnv provisions the module over an in-memory payment engine.
// When cfg.Auth is empty the test token is configured.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	payments := metrics.NewPayments(reg)
	proc, err := payment.NewProcessor(payment.Config{
		Store:   payment.NewMemoryStore(),
		Locks:   session.NewRegistry(),
		Metrics: payments,
	})
	if err != nil {
		t.Fatal(err)
	}
	backend := &paygatetest.Backend{}
	gw, err := paygate.NewClient(paygate.Config{
		Backend: backend,
		Clock:   paygatetest.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatal(err)
	}

	svc, err := checkout.NewService(checkout.Options{Processor: proc, Gateway: gw, Metrics: payments})
	if err != nil {
		t.Fatal(err)
	}

	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	appCtx.RegisterService(checkout.ServiceName, svc)
	appCtx.RegisterService(metrics.RegistryService, reg)
	appCtx.RegisterService(metrics.PaymentsService, payments)

	if !cfg.Auth.IsConfigured() {
		cfg.Auth = AuthConfig{BearerToken: testToken}
	}
	m := &Module{config: cfg}
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	m.bind()
	m.startedAt = time.Now()

	return &testEnv{module: m, svc: svc, backend: backend, appCtx: appCtx, handler: m.buildRouter()}
}

// do sends an authenticated request through the router.
func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return env
}

// mustYAMLNode parses YAML text into a *yaml.Node for Configure calls.
func mustYAMLNode(t *testing.T, text string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		t.Fatalf("YAML parse: %v", err)
	}
	if len(node.Content) > 0 {
		return node.Content[0]
	}
	return &node
}
