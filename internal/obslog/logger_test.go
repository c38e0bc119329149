package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsBearerTokenInMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json"})

	logger.Info(context.Background(), "received request", "header", "Bearer sk-ant-REDACTED")

	if strings.Contains(buf.String(), "abcdefghijklmnopqrstuvwxyz") {
		t.Fatalf("expected token to be redacted, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Fatalf("expected redaction marker in output: %s", buf.String())
	}
}

func TestLoggerIncludesContextCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: "json"})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithRunID(ctx, "run-9")
	logger.Info(ctx, "handled tool call")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON log line: %v", err)
	}
	if decoded["request_id"] != "req-1" || decoded["run_id"] != "run-9" {
		t.Fatalf("expected correlation fields in log line, got %#v", decoded)
	}
}

func TestSanitizeHeadersRedactsAuthorization(t *testing.T) {
	headers := map[string][]string{
		"Authorization": {"Bearer secret-token"},
		"Content-Type":  {"application/json"},
	}
	sanitized := SanitizeHeaders(headers)
	if sanitized["Authorization"] != "[REDACTED]" {
		t.Fatalf("expected Authorization to be redacted, got %q", sanitized["Authorization"])
	}
	if sanitized["Content-Type"] != "application/json" {
		t.Fatalf("expected Content-Type to pass through, got %q", sanitized["Content-Type"])
	}
}
