package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Belerafon/CookaReq-sub002/internal/config"
	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
)

// buildServeCmd is grounded on the teacher's buildServeCmd/runServe: bind,
// log the bound address, then block on SIGINT/SIGTERM and shut down within
// the configured grace period.
func buildServeCmd() *cobra.Command {
	var (
		addr             string
		token            string
		logDir           string
		requirementsRoot string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP tool server",
		Long: `Start the MCP HTTP server exposing the requirements and user-document
tool catalog over /health, /mcp/schema, and /mcp.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnviron(config.Default())
			if addr != "" {
				cfg.MCPAddr = addr
			}
			if token != "" {
				cfg.MCPToken = token
			}
			if logDir != "" {
				cfg.LogDir = logDir
			}
			if cfg.LogDir == "" {
				cfg.LogDir = config.DefaultLogDir()
			}
			if requirementsRoot != "" {
				cfg.RequirementsRoot = requirementsRoot
			}
			return runServe(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default 127.0.0.1:8765, or $COOKAREQ_MCP_ADDR)")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Bearer token required on every request (default $COOKAREQ_MCP_TOKEN, empty disables auth)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for rotating log files (default $COOKAREQ_LOG_DIR or an OS cache directory)")
	cmd.Flags().StringVar(&requirementsRoot, "requirements-root", "", "Base path the requirements service is rooted at (default \".\")")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg config.Config) error {
	logger := obslog.NewFileFanout(cfg.LogDir, "mcp/server", "info", 0, 0)
	out := cmd.OutOrStdout()

	reg := buildRegistry(cfg)
	srv := buildMCPServer(cfg, logger, reg, nil)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mcp server: %w", err)
	}
	fmt.Fprintf(out, "mcp server listening on %s\n", srv.Addr())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	fmt.Fprintln(out, "shutdown signal received, stopping gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)

	fmt.Fprintln(out, "mcp server stopped")
	return nil
}
