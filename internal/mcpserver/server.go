// Package mcpserver exposes the tool registry over HTTP: /health,
// /mcp/schema, and /mcp, grounded on the teacher's internal/gateway
// background-HTTP-server pattern (listener + goroutine + graceful
// shutdown with a forced-exit fallback) and on the original MCP server's
// single auth middleware wrapping every route (spec.md §4.3).
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/internal/wsfeed"
)

// Config configures one Server instance.
type Config struct {
	Addr          string
	Token         string // empty disables bearer-token enforcement
	Logger        *obslog.Logger
	ShutdownGrace time.Duration // default 5s, per spec.md §4.3/§5

	// EventFeed, if set, is mounted at /ws so UI clients can subscribe to
	// the live AgentEvent stream a Controller publishes via
	// controller.Config.Events, instead of polling the run handle. Optional
	// — spec.md §4.6's PresentationSink is one of several valid observer
	// implementations, not a mandatory one.
	EventFeed *wsfeed.Feed
}

// Server is the background MCP HTTP server. It owns its listener and is
// started/stopped explicitly; it never blocks the caller's goroutine once
// Start returns.
type Server struct {
	cfg      Config
	registry *registry.Registry
	metrics  *metrics
	httpSrv  *http.Server
	listener net.Listener
}

// New builds a Server that dispatches tool calls against reg. Call Start to
// begin serving.
func New(cfg Config, reg *registry.Registry) *Server {
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	return &Server{cfg: cfg, registry: reg, metrics: newMetrics()}
}

// Start binds the listener and begins serving in a background goroutine.
// It returns once the listener is bound, mirroring the teacher's
// startHTTPServer (bind synchronously, serve asynchronously).
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp/schema", s.handleSchema)
	mux.HandleFunc("/mcp", s.handleInvoke)
	mux.Handle("/metrics", s.metrics.handler())
	if s.cfg.EventFeed != nil {
		mux.Handle("/ws", s.cfg.EventFeed)
	}

	var handler http.Handler = mux
	handler = s.requestLogMiddleware(handler)
	handler = s.authMiddleware(handler)
	handler = s.requestIDMiddleware(handler)

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcpserver: listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.cfg.Logger != nil {
				s.cfg.Logger.Error(ctx, "mcp server exited unexpectedly", "error", err)
			}
		}
	}()

	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(ctx, "mcp server started", "addr", s.listener.Addr().String())
	}
	return nil
}

// Stop requests a graceful shutdown within the configured grace period; if
// the server does not quiesce in time, it force-closes the listener rather
// than blocking the caller indefinitely (spec.md §4.3 "force-exit is
// attempted, logged, and state is torn down regardless").
func (s *Server) Stop(ctx context.Context) {
	if s == nil || s.httpSrv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn(ctx, "mcp server graceful shutdown failed, forcing close", "error", err)
		}
		_ = s.httpSrv.Close()
	}
	s.httpSrv = nil
	s.listener = nil
}

// Addr returns the bound listener address, valid only after Start succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
