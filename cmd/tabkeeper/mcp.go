package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/mcp"
	"github.com/flemzord/tabkeeper/pkg/app"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the payment tools over MCP on stdin/stdout",
		Long: `Serve the payment tools over the Model Context Protocol on stdin/stdout.

Stores, the gateway and the payment engine are provisioned from the
configuration; the HTTP API is not started. Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := runParams(cmd)
			if err != nil {
				return err
			}
			application, err := app.Build(params)
			if err != nil {
				return err
			}
			defer application.Close()

			srv, ok := core.ServiceAs[*mcp.Server](application.Context(), mcp.ServiceName)
			if !ok {
				return fmt.Errorf("module mcp.server is not configured")
			}
			return srv.ServeStdio(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
