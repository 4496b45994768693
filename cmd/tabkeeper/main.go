// Package main is the entry point for the tabkeeper CLI.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/pkg/app"

	// Compiled modules.
	_ "github.com/flemzord/tabkeeper/internal/api"
	_ "github.com/flemzord/tabkeeper/internal/checkout"
	_ "github.com/flemzord/tabkeeper/internal/mcp"
	_ "github.com/flemzord/tabkeeper/internal/telemetry"
	_ "github.com/flemzord/tabkeeper/modules/paygate/httpgw"
	_ "github.com/flemzord/tabkeeper/modules/store/postgres"
	_ "github.com/flemzord/tabkeeper/modules/store/sqlite"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tabkeeper",
		Short:         "Per-session tabs, balances and checkout links for conversational ordering",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Persistent data directory")
	root.PersistentFlags().String("log-level", "info", "Minimum log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", app.LogFormatText, "Log format (text, json)")

	root.AddCommand(versionCmd(), startCmd(), configCmd(), mcpCmd(), reconcileCmd(), serviceCmd())
	return root
}

// runParams reads the persistent flags shared by every command that loads
// the configuration.
func runParams(cmd *cobra.Command) (app.RunParams, error) {
	flags := cmd.Flags()
	cfgPath, _ := flags.GetString("config")
	dataDir, _ := flags.GetString("data-dir")
	levelName, _ := flags.GetString("log-level")
	format, _ := flags.GetString("log-format")

	level, err := app.ParseLogLevel(levelName)
	if err != nil {
		return app.RunParams{}, err
	}
	return app.RunParams{
		ConfigPath: cfgPath,
		Version:    version,
		Commit:     commit,
		Date:       date,
		DataDir:    dataDir,
		LogLevel:   level,
		LogFormat:  format,
		LogOutput:  cmd.ErrOrStderr(),
	}, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "tabkeeper %s (commit: %s, built: %s)\n", version, commit, date)
	mods := core.GetModules()
	if len(mods) == 0 {
		fmt.Fprintln(w, "\nNo compiled modules.")
		return
	}
	fmt.Fprintln(w, "\nCompiled modules:")
	for _, mod := range mods {
		fmt.Fprintf(w, "  %s\n", mod.ID)
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start tabkeeper with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), params)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration and provision every module without starting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			params.ConfigPath = args[0]

			application, err := app.Build(params)
			if err != nil {
				return err
			}
			defer application.Close()

			mods := application.Modules()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(mods))
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ModuleInfo().ID)
			}
			return nil
		},
	})
	return cmd
}
