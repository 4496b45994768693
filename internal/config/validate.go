package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/tabkeeper/internal/core"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, and checks
// the module selection against the registry: every module is known, its
// requirements are configured and no two modules provide one service.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	if err := core.CheckSelection(Resolve(cfg)); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	errs = append(errs, validateSecurity(cfg.Security)...)

	return errors.Join(errs...)
}

func validateSecurity(sec SecurityConfig) []error {
	var errs []error
	for i, lit := range sec.Redact {
		if strings.TrimSpace(lit) == "" {
			errs = append(errs, fmt.Errorf("config: security.redact[%d]: empty literal", i))
		}
	}
	return errs
}
