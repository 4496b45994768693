package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/cron"
	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/security"
	"github.com/flemzord/tabkeeper/internal/session"
)

// ServiceName is the service under which the checkout Service is published.
const ServiceName = "payment.engine"

const validateTimeout = 5 * time.Second

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

// Module is the payment.engine module. It assembles the payment core from
// the store and gateway published by other modules, falling back to an
// in-memory store and an offline gateway.
type Module struct {
	config    Config
	service   *Service
	scheduler *cron.Scheduler
	audit     io.Closer
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "payment.engine",
		New:      func() core.Module { return &Module{} },
		Provides: []string{ServiceName},
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("checkout: decoding config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	if err := m.config.validate(); err != nil {
		return err
	}
	logger := ctx.Logger
	met, _ := core.ServiceAs[*metrics.Payments](ctx, metrics.PaymentsService)

	store, ok := core.ServiceAs[payment.Store](ctx, payment.StoreService)
	if !ok {
		logger.Warn("no persistent payment store configured, using memory")
		store = payment.NewMemoryStore()
	}

	locks := session.NewRegistry()
	met.RegisterLockGauge(func() float64 { return float64(locks.Len()) })

	proc, err := payment.NewProcessor(payment.Config{
		Store:          store,
		Locks:          locks,
		InitialBalance: m.config.initialBalance(),
		Conflict:       payment.ConflictPolicy{MaxAttempts: m.config.OrderConflictAttempts},
		Logger:         logger.With("component", "processor"),
		Metrics:        met,
	})
	if err != nil {
		return err
	}

	redactor, _ := core.ServiceAs[*security.Redactor](ctx, security.RedactorService)
	var audit *security.AuditLogger
	if m.config.AuditLog != "" {
		path := m.config.AuditLog
		if !filepath.IsAbs(path) {
			path = filepath.Join(ctx.DataDir, path)
		}
		audit, m.audit, err = security.OpenAuditFile(path, redactor)
		if err != nil {
			return err
		}
		ctx.RegisterService(security.AuditService, audit)
	}

	recon := payment.NewReconciler(proc, payment.ReconcilerConfig{
		Attempts: m.config.ReconcileAttempts,
		Backoff:  m.config.ReconcileBackoff,
		Logger:   logger.With("component", "reconciler"),
		Metrics:  met,
	})

	backend, ok := core.ServiceAs[paygate.Backend](ctx, paygate.BackendService)
	if !ok {
		logger.Warn("no payment gateway configured, every checkout link will be simulated")
		backend = paygate.Offline()
	}
	settings, _ := core.ServiceAs[paygate.Settings](ctx, paygate.SettingsService)
	currency := firstNonEmpty(m.config.Currency, settings.Currency)
	mockURL := firstNonEmpty(m.config.MockBaseURL, settings.MockBaseURL)

	gw, err := paygate.NewClient(paygate.Config{
		Backend:     backend,
		Logger:      logger.With("component", "paygate"),
		Metrics:     met,
		Link:        m.config.Link.options(),
		Poll:        m.config.Poll.options(),
		MockBaseURL: mockURL,
		Currency:    currency,
	})
	if err != nil {
		return err
	}

	m.service, err = NewService(Options{
		Processor:  proc,
		Reconciler: recon,
		Gateway:    gw,
		Bus:        NewBus(),
		Limiter:    security.NewRateLimiter(m.config.RateLimit),
		Audit:      audit,
		Metrics:    met,
		Logger:     logger,
		SessionTTL: m.config.SessionTTL,
	})
	if err != nil {
		return err
	}

	m.scheduler = cron.NewScheduler(logger.With("component", "cron"))
	jobs := []cron.Job{
		&cron.LockReaperJob{Sweeper: m.service, MaxIdle: m.config.LockIdleTimeout, Logger: logger, ScheduleExpr: m.config.Jobs.LockReaper},
		&cron.StateExpiryJob{Expirer: m.service, Logger: logger, ScheduleExpr: m.config.Jobs.StateExpiry},
		&cron.ReconciliationSweepJob{Sweeper: m.service, Logger: logger, ScheduleExpr: m.config.Jobs.Reconciliation},
	}
	for _, j := range jobs {
		if err := m.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}

	ctx.RegisterService(ServiceName, m.service)
	logger.Info("payment engine provisioned",
		"initial_balance", m.config.InitialBalance,
		"order_conflict_attempts", m.config.OrderConflictAttempts,
		"persistent_store", ok,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
	defer cancel()
	if err := m.service.Processor().Store().Ping(ctx); err != nil {
		return fmt.Errorf("checkout: payment store unreachable: %w", err)
	}
	return nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	return m.scheduler.Start()
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	var errs []error
	if m.scheduler != nil {
		errs = append(errs, m.scheduler.Stop(ctx))
	}
	if m.audit != nil {
		errs = append(errs, m.audit.Close())
	}
	return errors.Join(errs...)
}

// Service returns the provisioned checkout service.
func (m *Module) Service() *Service { return m.service }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
