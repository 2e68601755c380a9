package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/searchlab/searchlab/internal/mcp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the search tools over MCP stdio",
		Long: `Starts an MCP server on stdio exposing every available search domain,
pipeline execution, and domain status. Stdout carries JSON-RPC only; all
logging goes to the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Stdout belongs to the MCP protocol; never mirror logs there.
			flagJSON = true

			l, logger, cleanup, err := buildLab(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := mcp.NewServer(l, Version, logger)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}
