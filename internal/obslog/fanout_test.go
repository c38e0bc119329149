package obslog

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestNewFileFanoutWritesBothTextAndJSONFiles(t *testing.T) {
	dir := t.TempDir()
	logger := NewFileFanout(dir, "cookareq", "info", 0, 0)

	logger.Info(context.Background(), "server started", "addr", "127.0.0.1:8765")

	text, err := os.ReadFile(dir + "/cookareq.log")
	if err != nil {
		t.Fatalf("expected a text log file: %v", err)
	}
	if !strings.Contains(string(text), "server started") {
		t.Fatalf("expected the message in the text file, got: %s", text)
	}

	jsonLine, err := os.ReadFile(dir + "/cookareq.jsonl")
	if err != nil {
		t.Fatalf("expected a jsonl log file: %v", err)
	}
	if !strings.Contains(string(jsonLine), `"addr":"127.0.0.1:8765"`) {
		t.Fatalf("expected the structured field in the jsonl file, got: %s", jsonLine)
	}
}
