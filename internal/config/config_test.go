package config

import "testing"

func TestFromEnvironOverridesOnlySetVariables(t *testing.T) {
	t.Setenv("COOKAREQ_MCP_ADDR", "0.0.0.0:9000")
	t.Setenv("COOKAREQ_LOG_DIR", "")
	t.Setenv("COOKAREQ_LLM_MODEL", "gpt-4o")

	cfg := FromEnviron(Default())

	if cfg.MCPAddr != "0.0.0.0:9000" {
		t.Fatalf("expected the env override to win, got %q", cfg.MCPAddr)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Fatalf("expected the env override to win, got %q", cfg.LLMModel)
	}
	if cfg.LogDir != "" {
		t.Fatalf("expected an unset/blank variable to leave the base value, got %q", cfg.LogDir)
	}
	if cfg.LLMBaseURL != Default().LLMBaseURL {
		t.Fatalf("expected an untouched variable to keep its default, got %q", cfg.LLMBaseURL)
	}
}
