package mcpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
)

type contextKey string

const requestIDContextKey contextKey = "mcp_request_id"

// requestIDMiddleware assigns a fresh UUID-hex request id to every request
// before any other middleware runs, so auth failures and logs alike can
// correlate by it (spec.md §4.3 middleware step 1).
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		ctx = obslog.WithRequestID(ctx, id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDContextKey).(string); ok {
		return id
	}
	return ""
}

// authMiddleware enforces the configured bearer token against every route,
// including /health: the original server's single FastAPI middleware wraps
// the whole app with no route exemption, and spec.md §8 property 11 leaves
// the choice open — this resolves it the same way (see SPEC_FULL.md §7).
// An empty configured token disables enforcement entirely (local/dev mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusCapturingWriter records the status code written so the access log
// can report it, grounded on the teacher's web.responseWriter wrapper.
type statusCapturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// requestLogMiddleware emits one structured access-log record per request
// with sanitized headers, grounded on the original request_logging.py's
// log_request() shape (method, path, query, headers, status, duration_ms).
func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.metrics.recordRequest(r.URL.Path, wrapped.status)

		if s.cfg.Logger == nil {
			return
		}
		s.cfg.Logger.Info(r.Context(), "mcp http request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"headers", obslog.SanitizeHeaders(r.Header),
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}
