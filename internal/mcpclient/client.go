// Package mcpclient is the engine's outbound caller into this repo's own
// MCP HTTP server: it probes readiness, calls tools, and gates the
// destructive ones behind an explicit confirmation, grounded on the
// teacher's internal/mcp.Client shape (a struct holding config, a logger,
// and a mutex-guarded cache of server-reported state) adapted from the
// teacher's client-to-third-party-server model to this repo's
// client-to-its-own-server model (spec.md §4.4).
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// destructiveTools mirrors the registry's Destructive flag for the tools a
// caller cannot discover without first asking the server; the client never
// fetches /mcp/schema, so CallTool's confirmation gate consults this copy
// rather than a live lookup.
var destructiveTools = map[string]bool{
	"delete_requirement":   true,
	"delete_label":         true,
	"delete_user_document": true,
}

// Confirm is asked before a destructive tool call is dispatched. Returning
// false cancels the call without making an HTTP request.
type Confirm func(message string) bool

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Logger  *obslog.Logger
	Confirm Confirm // defaults to always-true (no interactive gate) if nil

	HTTPClient   *http.Client
	ReadyProbe   string        // tool used for ensure_ready; defaults to "list_requirements"
	ReadyMaxAge  time.Duration // cached readiness staleness window; defaults to 30s
}

// Client calls into one MCP server over HTTP.
type Client struct {
	cfg Config

	mu           sync.Mutex
	lastReadyAt  time.Time
	lastReadyErr *contract.Error
}

// New builds a Client. BaseURL should not have a trailing slash.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ReadyProbe == "" {
		cfg.ReadyProbe = "list_requirements"
	}
	if cfg.ReadyMaxAge == 0 {
		cfg.ReadyMaxAge = 30 * time.Second
	}
	if cfg.Confirm == nil {
		cfg.Confirm = func(string) bool { return true }
	}
	return &Client{cfg: cfg}
}

// Result is the outcome of one call_tool invocation.
type Result struct {
	OK     bool
	Result any
	Error  *contract.Error
}

// EnsureReady probes the server with a harmless read-only tool call and
// caches success for ReadyMaxAge; it returns the cached error unchanged if
// called again before the cache goes stale, so repeated calls in a tight
// loop don't hammer the server (spec.md §4.4: "returns normally or raises
// an error carrying an error envelope").
func (c *Client) EnsureReady(ctx context.Context) *contract.Error {
	c.mu.Lock()
	fresh := !c.lastReadyAt.IsZero() && time.Since(c.lastReadyAt) < c.cfg.ReadyMaxAge
	cachedErr := c.lastReadyErr
	c.mu.Unlock()
	if fresh {
		return cachedErr
	}

	res := c.callTool(ctx, c.cfg.ReadyProbe, json.RawMessage(`{}`), false)

	c.mu.Lock()
	c.lastReadyAt = time.Now()
	c.lastReadyErr = res.Error
	c.mu.Unlock()

	return res.Error
}

// CheckTools is EnsureReady's non-raising form: it never returns an error
// value to propagate, only a boolean and the error it observed.
func (c *Client) CheckTools(ctx context.Context) (bool, *contract.Error) {
	err := c.EnsureReady(ctx)
	return err == nil, err
}

// CallTool invokes name with arguments against the server. Destructive
// tools are confirmed first; a declined confirmation short-circuits to a
// CANCELLED result without any network call.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) Result {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return Result{Error: contract.NewError(contract.ErrValidation, "failed to encode tool arguments", nil)}
	}
	return c.callTool(ctx, name, raw, true)
}

func (c *Client) callTool(ctx context.Context, name string, rawArgs json.RawMessage, gate bool) Result {
	c.emit(ctx, "TOOL_CALL", name, rawArgs, nil)

	if gate && destructiveTools[name] {
		if !c.cfg.Confirm(fmt.Sprintf("confirm destructive call to %s?", name)) {
			result := Result{Error: contract.NewError(contract.ErrCancelled, "destructive tool call declined by confirmation gate", nil)}
			c.emit(ctx, "DONE", name, rawArgs, result.Error)
			return result
		}
	}

	body, err := json.Marshal(struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: name, Arguments: rawArgs})
	if err != nil {
		result := Result{Error: contract.NewError(contract.ErrInternal, "failed to encode request body", nil)}
		c.emit(ctx, "ERROR", name, rawArgs, result.Error)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mcp", bytes.NewReader(body))
	if err != nil {
		result := Result{Error: contract.NewError(contract.ErrInternal, "failed to build request", nil)}
		c.emit(ctx, "ERROR", name, rawArgs, result.Error)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		result := Result{Error: contract.NewError(contract.ErrInternal, "mcp request failed: "+err.Error(), nil)}
		c.emit(ctx, "ERROR", name, rawArgs, result.Error)
		return result
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		result := Result{Error: contract.NewError(contract.ErrInternal, "failed to read mcp response", nil)}
		c.emit(ctx, "ERROR", name, rawArgs, result.Error)
		return result
	}

	if resp.StatusCode >= 400 {
		var env contract.Envelope
		if jerr := json.Unmarshal(respBody, &env); jerr == nil && env.Error != nil {
			c.emit(ctx, "TOOL_RESULT", name, rawArgs, env.Error)
			return Result{Error: env.Error}
		}
		cerr := contract.NewError(contract.ErrInternal, fmt.Sprintf("mcp server returned status %d", resp.StatusCode), nil)
		c.emit(ctx, "TOOL_RESULT", name, rawArgs, cerr)
		return Result{Error: cerr}
	}

	var payload any
	if len(respBody) > 0 {
		if jerr := json.Unmarshal(respBody, &payload); jerr != nil {
			cerr := contract.NewError(contract.ErrInternal, "malformed mcp response body", nil)
			c.emit(ctx, "TOOL_RESULT", name, rawArgs, cerr)
			return Result{Error: cerr}
		}
	}

	result := Result{OK: true, Result: payload}
	c.emit(ctx, "TOOL_RESULT", name, rawArgs, nil)
	c.emit(ctx, "DONE", name, rawArgs, nil)
	return result
}

// emit logs one telemetry event for a tool call. Arguments are decoded into
// a generic value before logging so the logger's own redaction (sensitive
// key names, bearer/secret patterns) can run over them, matching the
// sanitized-arguments field spec.md §4.3/§4.4 describe for tool events.
func (c *Client) emit(ctx context.Context, event, tool string, rawArgs json.RawMessage, err *contract.Error) {
	if c.cfg.Logger == nil {
		return
	}
	var args any
	_ = json.Unmarshal(rawArgs, &args)

	fields := []any{"event", event, "tool", tool, "arguments", args}
	if err != nil {
		fields = append(fields, "error_code", err.Code, "error", err.Message)
	}
	c.cfg.Logger.Info(ctx, "mcp client event", fields...)
}
