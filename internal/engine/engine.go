// Package engine implements the Agent Turn Engine (spec.md §4.6): the
// multi-step LLM loop that assembles a conversation, calls the LLM,
// dispatches any tool calls it asks for, and finalizes an AgentRunPayload —
// always, even when the run is cancelled or fails partway through.
//
// Grounded on the teacher's internal/agent.AgenticLoop (phase-based
// Run/streamPhase/executeToolsPhase/continuePhase state machine), adapted
// from the teacher's streaming-chunk/session-store model to this repo's
// simpler request/response LLM client and in-memory run handle; concurrent
// tool dispatch follows the errgroup.WithContext pattern used for the
// toolkit-session fan-out in hoangvvo-llm-sdk's RunSession.Close.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Belerafon/CookaReq-sub002/internal/cancel"
	"github.com/Belerafon/CookaReq-sub002/internal/llm"
	"github.com/Belerafon/CookaReq-sub002/internal/mcpclient"
	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/internal/timeline"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Config configures one Engine.
type Config struct {
	SystemPrompt string

	// MaxSteps bounds the LLM round-trip loop.
	// Default: 32
	MaxSteps int

	// MaxValidationRetries bounds how many times a malformed tool-call
	// response may be fed back to the model for self-correction before the
	// run fails.
	// Default: 2
	MaxValidationRetries int

	LLM         LLMCaller
	ToolSchemas []registry.Describe
	Tools       ToolCaller
	Logger      *obslog.Logger
}

// LLMCaller is the subset of *llm.Client the engine depends on, kept as an
// interface — mirroring the teacher's LLMProvider seam — so tests can
// substitute a fake model without standing up an HTTP server.
type LLMCaller interface {
	Complete(ctx context.Context, messages []contract.ConversationMessage, tools []registry.Describe, onDelta llm.OnDelta) (*contract.LLMResponse, error)
}

// ToolCaller is the subset of *mcpclient.Client the engine depends on,
// kept as an interface so tests can substitute a fake MCP client.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments any) mcpclient.Result
}

// DefaultConfig returns the engine's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxSteps:             32,
		MaxValidationRetries: 2,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaults.MaxSteps
	}
	if cfg.MaxValidationRetries <= 0 {
		cfg.MaxValidationRetries = defaults.MaxValidationRetries
	}
	return cfg
}

// Engine runs agent turns against one configured LLM and MCP client.
type Engine struct {
	cfg Config
}

// New builds an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: sanitizeConfig(cfg)}
}

// Input is one turn's inputs (spec.md §4.6 "Inputs").
type Input struct {
	Prompt          string
	History         []contract.ConversationMessage
	ContextMessages []contract.ConversationMessage
}

// Observer receives streaming updates while a run is in flight. Both
// callbacks may be nil. Per spec.md §4.6, observers must be non-blocking
// and tolerant of out-of-order delivery — callers should reconcile using
// each payload's own sequence/call_id rather than assuming call order.
type Observer struct {
	OnToolSnapshots func([]contract.ToolResultSnapshot)
	OnLLMStep       func(contract.LlmStep)

	// OnEvent, if set, receives every AgentEvent as it is emitted (in
	// Sequence order), in addition to the two callbacks above. This is the
	// hook a PresentationSink such as wsfeed.Feed attaches to, since a live
	// UI feed wants the raw event stream rather than the reconstructed
	// snapshot/step views the other two callbacks provide.
	OnEvent func(contract.AgentEvent)
}

// runState holds the mutable bookkeeping for one Run call: the growing
// event log and the monotonic counter that event sequences and tool
// snapshot sequences are both drawn from (spec.md §4.6 step 2's single
// shared "sequence" variable). Guarded by mu since concurrent tool dispatch
// (spec.md §4.6 "Concurrent tool execution") has multiple goroutines
// emitting tool_completed/tool_failed events at once.
type runState struct {
	mu      sync.Mutex
	events  contract.AgentEventLog
	seq     int
	onEvent func(contract.AgentEvent)
}

func (r *runState) nextSeq() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.seq
	r.seq++
	return n
}

func (r *runState) emit(kind contract.AgentEventKind, at time.Time, payload map[string]any) {
	r.mu.Lock()
	n := r.seq
	r.seq++
	event := contract.AgentEvent{Kind: kind, OccurredAt: at, Sequence: n, Payload: payload}
	r.events = append(r.events, event)
	onEvent := r.onEvent
	r.mu.Unlock()

	// Per spec.md §5 "On each observer dispatch ... failure to deliver is
	// logged but not fatal": OnEvent is invoked outside the lock so a slow
	// or reentrant observer can never deadlock the run, and is never
	// allowed to block sequence assignment for other goroutines dispatching
	// concurrent tool calls.
	if onEvent != nil {
		onEvent(event)
	}
}

// Run executes one agent turn to completion, cancellation, or failure and
// always returns a finalized, normalized AgentRunPayload (spec.md §4.6).
func (e *Engine) Run(ctx context.Context, src *cancel.Source, in Input, obs Observer) contract.AgentRunPayload {
	conversation := e.assembleConversation(in)
	rs := &runState{onEvent: obs.OnEvent}

	var (
		steps             []contract.LlmStep
		allSnapshots      []contract.ToolResultSnapshot
		status            contract.RunStatus
		resultText        string
		reasoning         []contract.ReasoningSeg
		runErr            *contract.Error
		validationRetries int
		exceededSteps     = true
	)

stepLoop:
	for i := 0; i < e.cfg.MaxSteps; i++ {
		if err := src.RaiseIfCancelled(); err != nil {
			status = contract.RunCancelled
			rs.emit(contract.EventAgentCancelled, time.Now(), map[string]any{"status": string(contract.RunCancelled)})
			exceededSteps = false
			break stepLoop
		}

		rs.emit(contract.EventLLMStepStarted, time.Now(), map[string]any{"step_index": len(steps) + 1})

		requestSnapshot := append([]contract.ConversationMessage(nil), conversation...)
		resp, callErr := e.cfg.LLM.Complete(ctx, conversation, e.cfg.ToolSchemas, nil)
		if callErr != nil {
			cerr := asContractError(callErr)
			if cerr.Code == contract.ErrValidation && validationRetries < e.cfg.MaxValidationRetries {
				validationRetries++
				step := contract.LlmStep{Index: len(steps) + 1, OccurredAt: time.Now(), Request: requestSnapshot}
				steps = append(steps, step)
				rs.emit(contract.EventLLMStep, time.Now(), map[string]any{"step_index": step.Index, "validation_error": true})
				if obs.OnLLMStep != nil {
					obs.OnLLMStep(step)
				}
				conversation = append(conversation, contract.ConversationMessage{
					Role:    "tool",
					Content: fmt.Sprintf("validation error: %s — please retry with corrected arguments", cerr.Message),
				})
				continue stepLoop
			}
			status = contract.RunFailed
			runErr = cerr
			exceededSteps = false
			break stepLoop
		}

		step := contract.LlmStep{Index: len(steps) + 1, OccurredAt: time.Now(), Request: requestSnapshot, Response: *resp}
		steps = append(steps, step)
		rs.emit(contract.EventLLMStep, time.Now(), map[string]any{"step_index": step.Index})
		if obs.OnLLMStep != nil {
			obs.OnLLMStep(step)
		}

		content := ""
		if resp.Content != nil {
			content = *resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			conversation = append(conversation, contract.ConversationMessage{Role: "assistant", Content: content, Reasoning: resp.Reasoning})
			status = contract.RunSucceeded
			resultText = content
			reasoning = resp.Reasoning
			exceededSteps = false
			break stepLoop
		}

		conversation = append(conversation, contract.ConversationMessage{
			Role:      "assistant",
			Content:   content,
			ToolCalls: resp.ToolCalls,
			Reasoning: resp.Reasoning,
		})

		snapshots, cancelled := e.dispatchToolCalls(ctx, src, rs, resp.ToolCalls, obs)
		allSnapshots = append(allSnapshots, snapshots...)

		for _, snap := range snapshots {
			toolContent := toolMessageContent(snap)
			conversation = append(conversation, contract.ConversationMessage{
				Role:       "tool",
				ToolCallID: snap.CallID,
				Name:       snap.ToolName,
				Content:    toolContent,
			})
		}

		if cancelled {
			status = contract.RunCancelled
			rs.emit(contract.EventAgentCancelled, time.Now(), map[string]any{"status": string(contract.RunCancelled)})
			exceededSteps = false
			break stepLoop
		}
	}

	if exceededSteps {
		status = contract.RunFailed
		runErr = contract.NewError(contract.ErrInternal, "agent run exceeded the maximum number of steps", map[string]any{"max_steps": e.cfg.MaxSteps})
	}

	if status != contract.RunCancelled {
		rs.emit(contract.EventAgentFinished, time.Now(), map[string]any{"status": string(status)})
	}

	payload := contract.AgentRunPayload{
		Status:      status,
		ResultText:  resultText,
		Reasoning:   reasoning,
		ToolResults: allSnapshots,
		LlmTrace:    contract.LlmTrace{Steps: steps},
		Events:      rs.events,
		Error:       runErr,
	}
	e.finalizeTimeline(&payload)
	payload.Normalize()
	return payload
}

// finalizeTimeline builds the canonical timeline and checksum from the raw
// event log, tool snapshots, and LLM trace (spec.md §4.8) and attaches them
// to the payload. A timeline-build failure becomes a run failure: without a
// checksum the payload would violate its own invariant that the checksum
// always matches a fresh recompute.
func (e *Engine) finalizeTimeline(payload *contract.AgentRunPayload) {
	entries, checksum, err := timeline.Build(payload.Events, payload.ToolResults, payload.LlmTrace)
	if err != nil {
		payload.Status = contract.RunFailed
		payload.Error = contract.NewError(contract.ErrInternal, "failed to build run timeline: "+err.Error(), nil)
		return
	}
	payload.Timeline = entries
	payload.TimelineChecksum = checksum
}

// assembleConversation builds [system_prompt, ...context_messages,
// ...history, {user, prompt}] per spec.md §4.6 step 1.
func (e *Engine) assembleConversation(in Input) []contract.ConversationMessage {
	out := make([]contract.ConversationMessage, 0, len(in.ContextMessages)+len(in.History)+2)
	if e.cfg.SystemPrompt != "" {
		out = append(out, contract.ConversationMessage{Role: "system", Content: e.cfg.SystemPrompt})
	}
	out = append(out, in.ContextMessages...)
	out = append(out, in.History...)
	out = append(out, contract.ConversationMessage{Role: "user", Content: in.Prompt})
	return out
}

// dispatchToolCalls assigns snapshot sequences and started_at in LLM
// response order (spec.md §4.6 "Concurrent tool execution"), then runs the
// calls concurrently via errgroup while each goroutine only ever touches
// its own snapshot; the only shared state they write is the event log,
// through runState's mutex-guarded emit. It returns the final snapshots in
// original call order, and whether cancellation cut the dispatch short;
// Run then appends the tool messages to the conversation in that order.
func (e *Engine) dispatchToolCalls(ctx context.Context, src *cancel.Source, rs *runState, calls []contract.ToolCallAsk, obs Observer) ([]contract.ToolResultSnapshot, bool) {
	snaps := make([]*contract.ToolResultSnapshot, len(calls))
	for i, call := range calls {
		var args any
		_ = json.Unmarshal(call.Arguments, &args)
		startedAt := time.Now()
		snaps[i] = &contract.ToolResultSnapshot{
			CallID:    call.ID,
			ToolName:  call.Name,
			Status:    contract.ToolRunning,
			Arguments: args,
			StartedAt: &startedAt,
			Sequence:  rs.nextSeq(),
		}
		rs.emit(contract.EventToolStarted, startedAt, map[string]any{"call_id": call.ID, "tool_name": call.Name})
	}
	publish(obs, snaps)

	if err := src.RaiseIfCancelled(); err != nil {
		for _, snap := range snaps {
			snap.MarkFailed(time.Now(), contract.NewError(contract.ErrCancelled, "agent run cancelled before tool dispatch", nil))
		}
		publish(obs, snaps)
		return toValues(snaps), true
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		i := i
		call := calls[i]
		snap := snaps[i]
		g.Go(func() error {
			result := e.cfg.Tools.CallTool(gctx, call.Name, call.Arguments)
			if result.OK {
				snap.MarkSucceeded(time.Now(), result.Result)
				rs.emit(contract.EventToolCompleted, time.Now(), map[string]any{"call_id": call.ID, "tool_name": call.Name})
			} else {
				snap.MarkFailed(time.Now(), result.Error)
				rs.emit(contract.EventToolFailed, time.Now(), map[string]any{"call_id": call.ID, "tool_name": call.Name})
			}
			return nil
		})
	}
	_ = g.Wait()

	publish(obs, snaps)
	return toValues(snaps), false
}

func toValues(snaps []*contract.ToolResultSnapshot) []contract.ToolResultSnapshot {
	out := make([]contract.ToolResultSnapshot, len(snaps))
	for i, s := range snaps {
		out[i] = *s
	}
	return out
}

func publish(obs Observer, snaps []*contract.ToolResultSnapshot) {
	if obs.OnToolSnapshots == nil {
		return
	}
	obs.OnToolSnapshots(toValues(snaps))
}

func toolMessageContent(snap contract.ToolResultSnapshot) string {
	if snap.Status == contract.ToolSucceeded {
		b, err := json.Marshal(snap.Result)
		if err != nil {
			return "{}"
		}
		return string(b)
	}
	b, err := json.Marshal(snap.Error)
	if err != nil {
		return `{"message":"tool failed"}`
	}
	return string(b)
}

func asContractError(err error) *contract.Error {
	if cerr, ok := err.(*contract.Error); ok {
		return cerr
	}
	return contract.NewError(contract.ErrInternal, err.Error(), nil)
}
