// Package llm adapts the engine's neutral conversation model to an
// OpenAI-compatible chat/completions endpoint, grounded on the teacher's
// internal/agent/providers/openai.go (retry loop, streamed tool-call delta
// coalescing by index, message conversion shape) using
// github.com/sashabaranov/go-openai's request/tool types for the outgoing
// wire format. Response decoding is done against locally defined wire
// structs rather than the SDK's own response type, so every one of
// spec.md §4.5's five degraded tool-call-argument encodings can be
// defended against without depending on what a given SDK version chooses
// to populate.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Config configures a Client.
type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"; no trailing slash
	APIKey  string
	Model   string
	Logger  *obslog.Logger

	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Stream     bool
}

// Client is a thin, retrying HTTP caller into one OpenAI-compatible
// endpoint.
type Client struct {
	cfg Config
}

// New builds a Client, filling in the teacher's retry/backoff defaults
// (3 attempts in total, 1s base delay).
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &Client{cfg: cfg}
}

// OnDelta is called with incremental assistant text while a streamed
// response is being coalesced, enabling UI streaming (spec.md §4.5
// "intermediate content is also published as an optional callback").
type OnDelta func(text string)

// Complete sends one request/response round trip and returns the
// synthesized LLMResponse. For a streamed request, chunks are consumed
// internally and coalesced before returning (spec.md §4.5).
func (c *Client) Complete(ctx context.Context, messages []contract.ConversationMessage, tools []registry.Describe, onDelta OnDelta) (*contract.LLMResponse, error) {
	req := c.buildRequest(messages, tools)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, contract.NewError(contract.ErrInternal, "failed to encode llm request", nil)
	}

	c.emit(ctx, "LLM_REQUEST", map[string]any{"model": c.cfg.Model, "stream": c.cfg.Stream, "payload_bytes": len(body)})

	var (
		respBody []byte
		lastErr  error
	)
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, contract.NewError(contract.ErrCancelled, "llm request cancelled during retry backoff", nil)
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		respBody, lastErr = c.doRequest(ctx, body, onDelta)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, contract.NewError(contract.ErrInternal, "llm request failed: "+lastErr.Error(), nil)
		}
	}
	if lastErr != nil {
		return nil, contract.NewError(contract.ErrInternal, "llm request failed after retries: "+lastErr.Error(), nil)
	}

	result, err := decodeResponse(respBody)
	if err != nil {
		return nil, err
	}

	c.emit(ctx, "LLM_RESPONSE", map[string]any{"tool_calls": len(result.ToolCalls), "payload_bytes": len(respBody)})
	return result, nil
}

func (c *Client) buildRequest(messages []contract.ConversationMessage, tools []registry.Describe) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: toOpenAIMessages(messages),
		Stream:   c.cfg.Stream,
	}
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}
	return req
}

func toOpenAIMessages(messages []contract.ConversationMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []registry.Describe) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.ArgsSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, body []byte, onDelta OnDelta) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if c.cfg.Stream {
		return readStream(resp.Body, onDelta)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) emit(ctx context.Context, event string, fields map[string]any) {
	if c.cfg.Logger == nil {
		return
	}
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "event", event)
	for k, v := range fields {
		args = append(args, k, v)
	}
	c.cfg.Logger.Info(ctx, "llm client event", args...)
}
