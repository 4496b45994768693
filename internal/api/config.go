package api

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/flemzord/tabkeeper/internal/security"
)

// Config holds HTTP API configuration.
type Config struct {
	Bind            string                      `yaml:"bind"`
	Auth            AuthConfig                  `yaml:"auth"`
	Webhooks        map[string]WebhookSourceCfg `yaml:"webhooks"`
	ReadTimeout     time.Duration               `yaml:"read_timeout"`
	WriteTimeout    time.Duration               `yaml:"write_timeout"`
	ShutdownTimeout time.Duration               `yaml:"shutdown_timeout"`

	// MaxBodyBytes bounds request and webhook bodies.
	MaxBodyBytes int `yaml:"max_body_bytes"`
	MaxJSONDepth int `yaml:"max_json_depth"`

	// EventBuffer is the per-connection queue of the event stream.
	EventBuffer int `yaml:"event_buffer"`
}

// defaults fills zero values with sensible defaults. The write timeout
// has to outlast a full settle poll.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = security.DefaultMaxPayloadSize
	}
	if c.MaxJSONDepth <= 0 {
		c.MaxJSONDepth = security.DefaultMaxJSONDepth
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 32
	}
}

func (c *Config) validate() error {
	var errs []error
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		errs = append(errs, fmt.Errorf("api: invalid bind address %q: %w", c.Bind, err))
	}
	if (c.Auth.BasicUser == "") != (c.Auth.BasicPass == "") {
		errs = append(errs, errors.New("api: auth.basic_user and auth.basic_pass must be set together"))
	}
	for source, wh := range c.Webhooks {
		if wh.Secret == "" {
			errs = append(errs, fmt.Errorf("api: webhook source %q has no secret", source))
		}
	}
	return errors.Join(errs...)
}

// AuthConfig configures authentication for the session API.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg holds per-source webhook configuration.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret"`
}
