// Package api provides the HTTP surface of tabkeeper: session operations,
// gateway webhooks, live session events, health, status and metrics. It
// binds to loopback by default and follows the module system pattern.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/mcp"
	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/security"
)

// Service names published by the api.http module.
const (
	MetricsService    = "api.metrics"
	DispatcherService = "api.webhooks"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the HTTP API module. It is a leaf module: nothing imports it.
type Module struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	svc        *checkout.Service
	server     *http.Server
	metrics    *Metrics
	dispatcher *WebhookDispatcher
	startedAt  time.Time
	baseCancel context.CancelFunc

	// Resolved lazily at Start() via service registry.
	audit    *security.AuditLogger
	payments *metrics.Payments
	gatherer prometheus.Gatherer
	mcp      *mcp.Server
	version  string
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "api.http",
		New:      func() core.Module { return &Module{} },
		Requires: []core.ModuleID{"payment.engine"},
		Provides: []string{MetricsService, DispatcherService},
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("api: decoding config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	svc, ok := core.ServiceAs[*checkout.Service](ctx, checkout.ServiceName)
	if !ok {
		return fmt.Errorf("api: service %q not found, is payment.engine configured?", checkout.ServiceName)
	}
	m.svc = svc
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.metrics = &Metrics{}
	m.dispatcher = NewWebhookDispatcher(m.logger, m.config.MaxBodyBytes, m.config.MaxJSONDepth)
	m.dispatcher.metrics = m.metrics

	for source, cfg := range m.config.Webhooks {
		m.dispatcher.Register(source, paymentWebhooks{svc: svc}, cfg.Secret)
		m.logger.Info("webhook source configured", "source", source)
	}

	// Register services for cross-module discovery.
	ctx.RegisterService(MetricsService, m.metrics)
	ctx.RegisterService(DispatcherService, m.dispatcher)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// bind resolves optional services. Missing ones degrade gracefully.
func (m *Module) bind() {
	m.audit, _ = core.ServiceAs[*security.AuditLogger](m.appCtx, security.AuditService)
	m.payments, _ = core.ServiceAs[*metrics.Payments](m.appCtx, metrics.PaymentsService)
	m.gatherer, _ = core.ServiceAs[prometheus.Gatherer](m.appCtx, metrics.RegistryService)
	m.mcp, _ = core.ServiceAs[*mcp.Server](m.appCtx, mcp.ServiceName)
	m.version, _ = core.ServiceAs[string](m.appCtx, mcp.VersionService)
}

// Start implements core.Starter. It binds optional services and starts
// the HTTP server.
func (m *Module) Start() error {
	m.bind()
	m.startedAt = time.Now()

	// Hijacked event streams outlive Shutdown; their requests derive
	// from baseCtx, which Stop cancels.
	baseCtx, cancel := context.WithCancel(context.Background())
	m.baseCancel = cancel
	m.server = &http.Server{
		Addr:         m.config.Bind,
		Handler:      m.buildRouter(),
		ReadTimeout:  m.config.ReadTimeout,
		WriteTimeout: m.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", m.config.Bind)
	if err != nil {
		cancel()
		return fmt.Errorf("api: listen failed: %w", err)
	}

	go func() {
		m.logger.Info("api listening", "addr", ln.Addr().String())
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("api serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (m *Module) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	defer m.baseCancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	m.logger.Info("api shutting down")
	return m.server.Shutdown(shutdownCtx)
}
