package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/security"
)

const (
	defaultLockIdleTimeout = time.Hour
	defaultSessionTTL      = 24 * time.Hour
	defaultReaperSchedule  = "*/5 * * * *"
	defaultExpirySchedule  = "17 * * * *"
	defaultSweepSchedule   = "* * * * *"
)

// LinkConfig mirrors paygate.LinkOptions in YAML.
type LinkConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	OverallTimeout time.Duration `yaml:"overall_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// PollConfig mirrors paygate.PollOptions in YAML.
type PollConfig struct {
	Interval       time.Duration `yaml:"interval"`
	PerPollTimeout time.Duration `yaml:"per_poll_timeout"`
	Deadline       time.Duration `yaml:"deadline"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// JobsConfig holds the cron expressions of the background jobs.
type JobsConfig struct {
	LockReaper     string `yaml:"lock_reaper"`
	StateExpiry    string `yaml:"state_expiry"`
	Reconciliation string `yaml:"reconciliation"`
}

// Config holds the YAML configuration of the payment.engine module.
type Config struct {
	InitialBalance        string                   `yaml:"initial_balance"`
	LockIdleTimeout       time.Duration            `yaml:"lock_idle_timeout"`
	SessionTTL            time.Duration            `yaml:"session_ttl"`
	OrderConflictAttempts int                      `yaml:"order_conflict_attempts"`
	ReconcileAttempts     int                      `yaml:"reconcile_attempts"`
	ReconcileBackoff      time.Duration            `yaml:"reconcile_backoff"`
	Currency              string                   `yaml:"currency"`
	MockBaseURL           string                   `yaml:"mock_base_url"`
	AuditLog              string                   `yaml:"audit_log"`
	RateLimit             security.RateLimitConfig `yaml:"rate_limit"`
	Link                  LinkConfig               `yaml:"link"`
	Poll                  PollConfig               `yaml:"poll"`
	Jobs                  JobsConfig               `yaml:"jobs"`
}

func (c *Config) defaults() {
	if c.InitialBalance == "" {
		c.InitialBalance = payment.DefaultBalance.StringFixed(2)
	}
	if c.LockIdleTimeout == 0 {
		c.LockIdleTimeout = defaultLockIdleTimeout
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.OrderConflictAttempts == 0 {
		c.OrderConflictAttempts = 1
	}
	if c.ReconcileAttempts == 0 {
		c.ReconcileAttempts = payment.DefaultReconcileAttempts
	}
	if c.ReconcileBackoff == 0 {
		c.ReconcileBackoff = payment.DefaultReconcileBackoff
	}
	if c.Jobs.LockReaper == "" {
		c.Jobs.LockReaper = defaultReaperSchedule
	}
	if c.Jobs.StateExpiry == "" {
		c.Jobs.StateExpiry = defaultExpirySchedule
	}
	if c.Jobs.Reconciliation == "" {
		c.Jobs.Reconciliation = defaultSweepSchedule
	}
}

func (c *Config) validate() error {
	var errs []error
	bal, err := decimal.NewFromString(c.InitialBalance)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("checkout: invalid initial_balance %q: %w", c.InitialBalance, err))
	case !bal.IsPositive():
		errs = append(errs, fmt.Errorf("checkout: initial_balance must be positive, got %s", c.InitialBalance))
	}
	if c.OrderConflictAttempts < 1 || c.OrderConflictAttempts > payment.MaxConflictAttempts {
		errs = append(errs, fmt.Errorf("checkout: order_conflict_attempts must be between 1 and %d, got %d",
			payment.MaxConflictAttempts, c.OrderConflictAttempts))
	}
	if c.ReconcileAttempts < 1 {
		errs = append(errs, fmt.Errorf("checkout: reconcile_attempts must be positive, got %d", c.ReconcileAttempts))
	}
	if c.LockIdleTimeout < 0 || c.SessionTTL < 0 || c.ReconcileBackoff < 0 {
		errs = append(errs, errors.New("checkout: durations must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) initialBalance() decimal.Decimal {
	d, err := decimal.NewFromString(c.InitialBalance)
	if err != nil {
		return payment.DefaultBalance
	}
	return d
}

func (c LinkConfig) options() paygate.LinkOptions {
	return paygate.LinkOptions{
		MaxRetries:     c.MaxRetries,
		OverallTimeout: c.OverallTimeout,
		InitialBackoff: c.InitialBackoff,
	}
}

func (c PollConfig) options() paygate.PollOptions {
	return paygate.PollOptions{
		Interval:       c.Interval,
		PerPollTimeout: c.PerPollTimeout,
		Deadline:       c.Deadline,
		MaxAttempts:    c.MaxAttempts,
	}
}
