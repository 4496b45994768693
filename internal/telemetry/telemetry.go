// Package telemetry installs an OpenTelemetry tracer provider exporting
// spans over OTLP/HTTP. Without an endpoint the global no-op provider
// stays in place and instrumented code pays nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/core"
)

// ProviderService is the service name of the installed *sdktrace.TracerProvider.
const ProviderService = "telemetry.provider"

// Config holds the YAML configuration of the telemetry.otel module.
type Config struct {
	// Endpoint is the collector host:port. Empty disables export.
	Endpoint    string            `yaml:"endpoint"`
	URLPath     string            `yaml:"url_path"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name"`

	// SampleRatio is the fraction of root traces kept, in (0, 1].
	// Zero means every trace.
	SampleRatio  float64       `yaml:"sample_ratio"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "tabkeeper"
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = 1
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

func (c *Config) exporterOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
	if c.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(c.URLPath))
	}
	if c.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(c.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
	}
	return opts
}

// NewProvider builds a tracer provider batching spans into exp.
func NewProvider(cfg Config, exp sdktrace.SpanExporter) *sdktrace.TracerProvider {
	cfg.defaults()
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
}

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the telemetry.otel module.
type Module struct {
	config   Config
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "telemetry.otel",
		New:      func() core.Module { return &Module{} },
		Provides: []string{ProviderService},
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telemetry: decoding config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The provider becomes global so
// tracers obtained before or after this point all export through it.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	if err := m.config.validate(); err != nil {
		return err
	}
	if m.config.Endpoint == "" {
		ctx.Logger.Info("telemetry disabled, no endpoint configured")
		return nil
	}

	exp, err := otlptracehttp.New(context.Background(), m.config.exporterOptions()...)
	if err != nil {
		return fmt.Errorf("telemetry: creating exporter: %w", err)
	}
	m.provider = NewProvider(m.config, exp)
	otel.SetTracerProvider(m.provider)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		ctx.Logger.Warn("telemetry export error", "error", err)
	}))

	ctx.RegisterService(ProviderService, m.provider)
	ctx.Logger.Info("telemetry enabled",
		"endpoint", m.config.Endpoint,
		"service_name", m.config.ServiceName,
		"sample_ratio", m.config.SampleRatio,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper. Pending spans are flushed.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
