package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestRunOneTurnEndToEnd drives buildRunCmd's RunE against a stub
// OpenAI-compatible endpoint and an embedded MCP server, the same wiring
// "agentd run" uses in production, and checks the printed payload.
func TestRunOneTurnEndToEnd(t *testing.T) {
	llmStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"the catalog is empty"}}]}`))
	}))
	defer llmStub.Close()

	t.Setenv("COOKAREQ_LLM_BASE_URL", llmStub.URL)
	t.Setenv("COOKAREQ_LLM_MODEL", "stub-model")

	var buf bytes.Buffer
	cmd := buildRunCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--log-dir", t.TempDir(), "list what requirements exist"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), "the catalog is empty") {
		t.Fatalf("expected the stubbed LLM response in the printed payload, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"status": "succeeded"`) {
		t.Fatalf("expected a succeeded run payload, got: %s", buf.String())
	}
}

func TestRunRequiresAPrompt(t *testing.T) {
	cmd := buildRunCmd()
	cmd.SetArgs([]string{"--log-dir", t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a missing prompt")
	}
}
