// Command agentd is the process entrypoint for the local agent runtime: a
// cobra-based CLI with a "serve" subcommand (the MCP HTTP server) and a
// "run" subcommand (one agent turn driven end-to-end from the command
// line), grounded on the teacher's cmd/nexus command tree.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd builds the command tree. Kept separate from main so tests
// can exercise it without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "Local AI agent runtime",
		Long: fmt.Sprintf(`agentd runs a local MCP tool server exposing a requirements and
user-document catalog, and an agent turn engine that drives a single
conversational loop against an OpenAI-compatible model, dispatching every
tool call back through that same server.

Environment: %s, %s, %s, %s, %s, %s`,
			"COOKAREQ_LOG_DIR", "COOKAREQ_MCP_ADDR", "COOKAREQ_MCP_TOKEN",
			"COOKAREQ_LLM_BASE_URL", "COOKAREQ_LLM_MODEL", "COOKAREQ_LLM_API_KEY"),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildRunCmd())
	return rootCmd
}
