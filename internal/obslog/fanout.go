package obslog

import (
	"context"
	"log/slog"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// multiHandler fans every record out to each child handler in turn,
// stopping at the first error so a single broken sink doesn't mask what
// the others recorded.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// NewFileFanout builds a Logger that writes every record to both a rotating
// plain-text file and a rotating newline-delimited-JSON file under dir,
// named "<name>.log" and "<name>.jsonl" (spec.md §6 "Log files (rotating)":
// cookareq.log/cookareq.jsonl for the runtime, mcp/server.log/
// mcp/server.jsonl for the MCP server's request log). Rotation sizing
// mirrors New's RotateFile defaults (2 MiB, 5 backups) unless maxSizeMB/
// backups override them.
func NewFileFanout(dir, name string, level string, maxSizeMB, backups int) *Logger {
	if maxSizeMB == 0 {
		maxSizeMB = 2
	}
	if backups == 0 {
		backups = 5
	}

	textOut := &lumberjack.Logger{Filename: filepath.Join(dir, name+".log"), MaxSize: maxSizeMB, MaxBackups: backups}
	jsonOut := &lumberjack.Logger{Filename: filepath.Join(dir, name+".jsonl"), MaxSize: maxSizeMB, MaxBackups: backups}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	handler := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(textOut, opts),
		slog.NewJSONHandler(jsonOut, opts),
	}}

	patterns := append([]string{}, DefaultRedactPatterns...)
	return &Logger{logger: slog.New(handler), redacts: compileRedacts(patterns)}
}
