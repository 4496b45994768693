package mcp

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/security"
	"github.com/flemzord/tabkeeper/internal/tool"
)

// Service names published by the mcp.server module.
const (
	ServiceName         = "mcp.server"
	RegistryServiceName = "tool.registry"

	// VersionService is the build version registered by the binary.
	VersionService = "app.version"
)

// Config holds the YAML configuration of the mcp.server module.
type Config struct {
	Name      string                   `yaml:"name"`
	Path      string                   `yaml:"path"`
	Policy    tool.Policy              `yaml:"policy"`
	RateLimit security.RateLimitConfig `yaml:"rate_limit"`
}

func (c *Config) defaults() {
	if c.Name == "" {
		c.Name = "tabkeeper"
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
}

func (c *Config) validate() error {
	var errs []error
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp: path must start with '/', got %q", c.Path))
	}
	if err := tool.ValidatePolicy(c.Policy); err != nil {
		errs = append(errs, fmt.Errorf("mcp: %w", err))
	}
	return errors.Join(errs...)
}

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Module is the mcp.server module. It builds the tool registry over the
// payment engine and publishes an MCP server that api.http mounts.
type Module struct {
	config   Config
	registry *tool.Registry
	server   *Server
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "mcp.server",
		New:      func() core.Module { return &Module{} },
		Requires: []core.ModuleID{"payment.engine"},
		Provides: []string{ServiceName, RegistryServiceName},
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("mcp: decoding config: %w", err)
	}
	m.config.defaults()
	return m.config.validate()
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	svc, ok := core.ServiceAs[*checkout.Service](ctx, checkout.ServiceName)
	if !ok {
		return fmt.Errorf("mcp: service %q not found, is payment.engine configured?", checkout.ServiceName)
	}

	m.registry = tool.NewRegistry()
	if audit, ok := core.ServiceAs[*security.AuditLogger](ctx, security.AuditService); ok {
		m.registry.SetAuditLogger(audit)
	}
	m.registry.SetRateLimiter(security.NewRateLimiter(m.config.RateLimit))
	if err := tool.RegisterPaymentTools(m.registry, svc); err != nil {
		return err
	}

	version, _ := core.ServiceAs[string](ctx, VersionService)
	m.server = NewServer(m.registry, Options{
		Name:    m.config.Name,
		Version: version,
		Path:    m.config.Path,
		Policy:  m.config.Policy,
		Logger:  ctx.Logger,
	})

	ctx.RegisterService(RegistryServiceName, m.registry)
	ctx.RegisterService(ServiceName, m.server)
	ctx.Logger.Info("mcp server ready", "path", m.config.Path, "tools", len(m.registry.Allowed(m.config.Policy)))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Server returns the provisioned MCP server.
func (m *Module) Server() *Server { return m.server }
