// Package config handles YAML configuration loading, .env files,
// environment variable expansion, module ordering and structural
// validation for tabkeeper.
package config

import "gopkg.in/yaml.v3"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "payment.engine").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Security holds process-wide security settings.
	Security SecurityConfig `yaml:"security,omitempty"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// Redact lists literal secrets masked in logs and audit entries, on
	// top of the built-in API key patterns.
	Redact []string `yaml:"redact,omitempty"`
}
