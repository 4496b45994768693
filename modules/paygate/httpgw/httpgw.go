// Package httpgw provides the paygate.http module, a payment gateway
// backend over HTTP using resty.
package httpgw

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/paygate"
)

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

func init() {
	core.RegisterModule(&Module{})
}

// Module is the paygate.http module.
type Module struct {
	config  Config
	backend *Backend
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:       "paygate.http",
		New:      func() core.Module { return &Module{} },
		Provides: []string{paygate.BackendService, paygate.SettingsService},
	}
}

// Configure decodes the YAML configuration and applies defaults.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("httpgw: decoding config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision builds the resty backend and registers it, together with the
// link settings the payment engine should use.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.backend = NewBackend(m.config)
	ctx.RegisterService(paygate.BackendService, paygate.Backend(m.backend))
	ctx.RegisterService(paygate.SettingsService, paygate.Settings{
		Currency:    m.config.Currency,
		MockBaseURL: m.config.MockBaseURL,
	})
	ctx.Logger.Info("payment gateway backend provisioned", "base_url", m.config.BaseURL)
	return nil
}

// Validate checks the required settings.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Backend returns the provisioned backend.
func (m *Module) Backend() *Backend { return m.backend }
