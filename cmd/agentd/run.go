package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Belerafon/CookaReq-sub002/internal/chatstore"
	"github.com/Belerafon/CookaReq-sub002/internal/config"
	"github.com/Belerafon/CookaReq-sub002/internal/controller"
	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/internal/viewmodel"
	"github.com/Belerafon/CookaReq-sub002/internal/wsfeed"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// buildRunCmd drives one agent turn end-to-end from the command line: it
// stands up its own embedded MCP server (so the catalog is live for the
// turn without a separate "serve" process), submits the prompt through
// internal/controller exactly as a long-running process would, waits for
// it to finish, and prints the resulting AgentRunPayload as JSON (per
// SPEC_FULL.md §1's cmd/agentd description).
func buildRunCmd() *cobra.Command {
	var (
		prompt           string
		addr             string
		token            string
		logDir           string
		requirementsRoot string
		showTimeline     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive one agent turn and print the resulting run payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			trimmed := strings.TrimSpace(prompt)
			if trimmed == "" && len(args) > 0 {
				trimmed = strings.TrimSpace(strings.Join(args, " "))
			}
			if trimmed == "" {
				return fmt.Errorf("a prompt is required: pass --prompt or a positional argument")
			}

			cfg := config.FromEnviron(config.Default())
			// run owns a private, ephemeral-port MCP server for the
			// lifetime of one turn, never a shared one, unless the caller
			// explicitly pins an address.
			cfg.MCPAddr = "127.0.0.1:0"
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

			return runOneTurn(cmd.Context(), cmd, cfg, trimmed, showTimeline)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "The prompt to submit (alternatively, pass it as a positional argument)")
	cmd.Flags().StringVar(&addr, "addr", "", "MCP server listen address; defaults to an ephemeral localhost port")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Bearer token for the embedded MCP server (default $COOKAREQ_MCP_TOKEN)")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "Directory for rotating log files (default $COOKAREQ_LOG_DIR or an OS cache directory)")
	cmd.Flags().StringVar(&requirementsRoot, "requirements-root", "", "Base path the requirements service is rooted at (default \".\")")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Also print the synthesized conversation timeline view")

	return cmd
}

func runOneTurn(ctx context.Context, cmd *cobra.Command, cfg config.Config, prompt string, showTimeline bool) error {
	logger := obslog.NewFileFanout(cfg.LogDir, "cookareq", "info", 0, 0)
	out := cmd.OutOrStdout()

	reg := buildRegistry(cfg)
	// The live event feed is mounted on the embedded MCP server's own
	// listener and fed from the controller's EventSink, so a UI attached
	// over /ws sees the same AgentEvents this process prints at the end,
	// as they happen rather than only after the turn finalizes.
	feed := wsfeed.New(nil)
	srv := buildMCPServer(cfg, logger, reg, feed)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start embedded mcp server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
		defer cancel()
		srv.Stop(shutdownCtx)
	}()

	eng, mc := buildEngine(cfg, logger, reg, "http://"+srv.Addr())
	if rdyErr := mc.EnsureReady(ctx); rdyErr != nil {
		return fmt.Errorf("mcp server not ready: %s", rdyErr.Message)
	}

	store := chatstore.New(logger)
	ctrl := controller.New(controller.Config{
		Store:    store,
		Supplier: func() controller.EngineRunner { return eng },
		Events: func(conversationID string, event contract.AgentEvent) {
			feed.Broadcast(ctx, conversationID, event)
		},
	})

	handle, err := ctrl.SubmitPrompt(ctx, prompt, nil)
	if err != nil {
		return err
	}
	payload := handle.Wait()

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run payload: %w", err)
	}
	fmt.Fprintln(out, string(encoded))

	if showTimeline {
		conv, loadErr := store.LoadConversation(ctx, handle.ConversationID)
		if loadErr != nil {
			return fmt.Errorf("failed to load conversation for timeline: %w", loadErr)
		}
		printTimeline(out, viewmodel.Build(handle.ConversationID, conv))
	}

	if payload.Status != contract.RunSucceeded {
		return fmt.Errorf("run did not succeed: status=%s", payload.Status)
	}
	return nil
}

func printTimeline(out io.Writer, tl viewmodel.ConversationTimeline) {
	encoded, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "failed to encode timeline: %v\n", err)
		return
	}
	fmt.Fprintln(out, string(encoded))
}
