// Package app provides the shared entry point for the tabkeeper binary.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/tabkeeper/internal/config"
	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/mcp"
	"github.com/flemzord/tabkeeper/internal/metrics"
	"github.com/flemzord/tabkeeper/internal/security"
)

// Log formats accepted by RunParams.LogFormat.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// LogFormat is "text" (default) or "json".
	LogFormat string

	// LogOutput receives log records. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received or ctx is done.
func Run(ctx context.Context, params RunParams) error {
	application, err := Build(params)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

// Build loads and validates the configuration, registers the process-wide
// services and loads every configured module without starting it.
func Build(params RunParams) (*core.App, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor()
	for _, literal := range cfg.Security.Redact {
		redactor.AddLiteral(literal)
	}
	logger, err := NewLogger(params, redactor)
	if err != nil {
		return nil, err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	version := params.Version
	if version == "" {
		version = "dev"
	}
	appCtx.RegisterService(mcp.VersionService, version)
	appCtx.RegisterService("config.path", cfgPath)
	appCtx.RegisterService(security.RedactorService, redactor)
	appCtx.RegisterService(metrics.RegistryService, registry)
	appCtx.RegisterService(metrics.PaymentsService, metrics.NewPayments(registry))

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}
	logger.Info("configuration loaded", "path", cfgPath, "modules", len(ids), "version", version)
	return application, nil
}

// NewLogger builds the process logger. Every record passes through the
// redactor before reaching the output.
func NewLogger(params RunParams, redactor *security.Redactor) (*slog.Logger, error) {
	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: params.LogLevel}

	var inner slog.Handler
	switch strings.ToLower(params.LogFormat) {
	case "", LogFormatText:
		inner = slog.NewTextHandler(out, opts)
	case LogFormatJSON:
		inner = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want %s or %s)", params.LogFormat, LogFormatText, LogFormatJSON)
	}
	return slog.New(security.NewRedactingHandler(inner, redactor)), nil
}

// ParseLogLevel maps a level name (debug, info, warn, error) to a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/tabkeeper/tabkeeper.yaml → ~/.config/tabkeeper/tabkeeper.yaml → ./tabkeeper.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "tabkeeper", "tabkeeper.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "tabkeeper", "tabkeeper.yaml"))
	}

	candidates = append(candidates, "tabkeeper.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/tabkeeper if set, otherwise ~/.local/share/tabkeeper per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "tabkeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "tabkeeper")
}
