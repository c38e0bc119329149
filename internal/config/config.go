// Package config assembles the runtime's environment-driven settings into
// one struct, grounded on the teacher's internal/agent.RuntimeOptions /
// DefaultRuntimeOptions merge pattern: a Default() baseline overridden
// field-by-field by whatever the environment (or, for cmd/agentd, a CLI
// flag) actually supplies, rather than the zero value silently winning.
package config

import (
	"os"
	"strings"
	"time"
)

// Config is every environment-sourced setting the runtime needs (spec.md
// §6 "Environment variables", extended per SPEC_FULL.md §1's ambient
// config section).
type Config struct {
	LogDir string

	MCPAddr  string
	MCPToken string

	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	RequirementsRoot string
}

// Default returns the runtime's baseline configuration.
func Default() Config {
	return Config{
		MCPAddr:          "127.0.0.1:8765",
		LLMBaseURL:       "https://api.openai.com/v1",
		LLMModel:         "gpt-4o-mini",
		RequirementsRoot: ".",
	}
}

// FromEnviron merges COOKAREQ_* environment variables over base, leaving
// any variable that is unset or blank at base's value.
func FromEnviron(base Config) Config {
	merged := base
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_LOG_DIR")); v != "" {
		merged.LogDir = v
	}
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_MCP_ADDR")); v != "" {
		merged.MCPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_MCP_TOKEN")); v != "" {
		merged.MCPToken = v
	}
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_LLM_BASE_URL")); v != "" {
		merged.LLMBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_LLM_MODEL")); v != "" {
		merged.LLMModel = v
	}
	if v := strings.TrimSpace(os.Getenv("COOKAREQ_LLM_API_KEY")); v != "" {
		merged.LLMAPIKey = v
	}
	return merged
}

// DefaultLogDir resolves the log directory spec.md §6 calls "OS-appropriate
// default" when COOKAREQ_LOG_DIR is unset: the user cache directory, one
// level under a "cookareq" subdirectory.
func DefaultLogDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "."
	}
	return dir + string(os.PathSeparator) + "cookareq"
}

// LLMTimeout is the default per-request LLM timeout (spec.md §5 "LLM
// requests use a configurable per-request timeout (default 300 s)").
const LLMTimeout = 300 * time.Second

// MCPProbeTimeout is the default short per-request MCP timeout (spec.md §5
// "MCP tool calls use a short per-request timeout (default 5 s for
// probing, configurable per call)").
const MCPProbeTimeout = 5 * time.Second

// ShutdownGrace is how long an HTTP server is given to shut down before
// the caller forces exit (spec.md §5 "HTTP server shutdown waits up to
// 5 s, then forces exit").
const ShutdownGrace = 5 * time.Second
