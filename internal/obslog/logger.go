// Package obslog provides the structured, redacting logger used across the
// agent runtime: slog-based, JSON by default, with request/session
// correlation pulled from context and rotating file output via lumberjack
// (spec.md's ambient logging stack, grounded on the teacher's
// internal/observability.Logger).
package obslog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey is the type for context keys this package recognizes.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	SessionIDKey ContextKey = "session_id"
	RunIDKey     ContextKey = "run_id"
)

// DefaultRedactPatterns covers the secret shapes the runtime is most likely
// to echo back into logs: bearer tokens, OpenAI-style API keys, and JWTs.
var DefaultRedactPatterns = []string{
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

var sensitiveKeys = map[string]bool{
	"password": true, "passwd": true, "secret": true, "token": true,
	"api_key": true, "apikey": true, "authorization": true, "cookie": true,
}

// Config configures a Logger. A zero Config is valid and logs JSON to
// stdout at info level.
type Config struct {
	Level          string
	Format         string // "json" or "text"
	Output         io.Writer
	AddSource      bool
	RedactPatterns []string

	// RotateFile, if set, routes output through a rotating
	// file (2 MiB / 5 backups by default, matching the original request
	// logger's RotatingFileHandler sizing) instead of Output.
	RotateFile      string
	RotateMaxSizeMB int
	RotateBackups   int
}

// Logger wraps an *slog.Logger with context-aware redaction.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// New builds a Logger from cfg, defaulting level to info and format to
// json.
func New(cfg Config) *Logger {
	output := cfg.Output
	if cfg.RotateFile != "" {
		maxSize := cfg.RotateMaxSizeMB
		if maxSize == 0 {
			maxSize = 2
		}
		backups := cfg.RotateBackups
		if backups == 0 {
			backups = 5
		}
		output = &lumberjack.Logger{
			Filename:   cfg.RotateFile,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   false,
		}
	}
	if output == nil {
		output = os.Stdout
	}

	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	patterns := append(append([]string{}, DefaultRedactPatterns...), cfg.RedactPatterns...)
	return &Logger{logger: slog.New(handler), redacts: compileRedacts(patterns)}
}

// compileRedacts compiles every pattern that parses, silently skipping any
// that don't rather than failing logger construction over a bad pattern.
func compileRedacts(patterns []string) []*regexp.Regexp {
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}
	return redacts
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithFields returns a derived Logger carrying extra static key-values.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}

	attrs := make([]any, 0, len(redacted)+6)
	if ctx != nil {
		if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
			attrs = append(attrs, "request_id", v)
		}
		if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
			attrs = append(attrs, "session_id", v)
		}
		if v, ok := ctx.Value(RunIDKey).(string); ok && v != "" {
			attrs = append(attrs, "run_id", v)
		}
	}
	attrs = append(attrs, redacted...)
	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return l.redactMap(m)
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveKeys[key] {
			out[k] = "[REDACTED]"
		} else {
			out[k] = l.redactValue(v)
		}
	}
	return out
}

// WithRequestID returns a context carrying a request id for log
// correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithRunID returns a context carrying an agent run id for log correlation.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}
