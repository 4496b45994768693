package httpgw

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCurrency = "usd"
)

// Config holds the YAML configuration for the paygate.http module.
type Config struct {
	// BaseURL is the gateway API root, e.g. https://gateway.example.com.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one HTTP request. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Currency is the ISO code used for links. Default: usd.
	Currency string `yaml:"currency"`

	// MockBaseURL prefixes simulated links when the gateway is down.
	MockBaseURL string `yaml:"mock_base_url"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("httpgw: base_url is required"))
	} else {
		u, err := url.Parse(c.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("httpgw: invalid base_url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("httpgw: base_url scheme must be http or https, got %q", u.Scheme))
		case u.Host == "":
			errs = append(errs, errors.New("httpgw: base_url must include a host"))
		}
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("httpgw: api_key is required"))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("httpgw: timeout must be positive, got %s", c.Timeout))
	}
	return errors.Join(errs...)
}
