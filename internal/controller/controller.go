// Package controller implements the Run Controller / Executor (spec.md
// §4.7): a thin scheduler that owns a single-worker queue and at most one
// active run handle per conversation, translating submit_prompt/stop/
// regenerate calls into Agent Turn Engine runs.
//
// Grounded on the teacher's internal/agent.Runtime — its per-session
// sessionLock (one mutex per session ID, ref-counted, torn down once
// idle) is adapted here into one FIFO worker goroutine per Controller
// plus a single active-handle slot, and its Process() (spawn a goroutine,
// stream events through an emitter, invoke a completion callback) is
// adapted into submitPrompt's worker-task submission and finalize
// callback.
package controller

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Belerafon/CookaReq-sub002/internal/cancel"
	"github.com/Belerafon/CookaReq-sub002/internal/engine"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// charsPerToken approximates token count from text length — the same
// heuristic (and the same reasoning for not pulling in a real tokenizer
// dependency) as the prompt/response token estimator used for tool-output
// size thresholds elsewhere in the pack: an exact count would need a
// model-specific tokenizer library for a number that is itself only a
// soft, display-only estimate here (spec.md §4.7 "measured prompt tokens").
const charsPerToken = 4

// EstimateTokens approximates a token count from text length.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EngineRunner is the subset of *engine.Engine the controller depends on.
type EngineRunner interface {
	Run(ctx context.Context, src *cancel.Source, in engine.Input, obs engine.Observer) contract.AgentRunPayload
}

// AgentSupplier constructs the EngineRunner to use for one submitted
// prompt — spec.md §4.7 step 7's "injected supplier".
type AgentSupplier func() EngineRunner

// ContextProvider computes the effective context messages to attach to one
// turn (spec.md §4.7 step 4's "injected provider").
type ContextProvider func(ctx context.Context, conversationID, prompt string) []contract.ConversationMessage

// ConversationStore is the persistence seam the controller needs from a
// chat-entry/conversation sidecar store (spec.md §4.9); internal/chatstore
// implements it.
type ConversationStore interface {
	EnsureActiveConversation(ctx context.Context) (string, error)
	ConversationMessages(ctx context.Context, conversationID string) ([]contract.ConversationMessage, error)
	AppendPendingEntry(ctx context.Context, conversationID string, entry *contract.ChatEntry) error
	FinalizePrompt(ctx context.Context, conversationID string, entry *contract.ChatEntry, payload contract.AgentRunPayload) error
	LastEntry(ctx context.Context, conversationID string) (*contract.ChatEntry, error)
	MarkRegenerated(ctx context.Context, conversationID string, entry *contract.ChatEntry) error
}

// RefreshNotifier is asked to refresh the transcript after the pending
// entry is appended (spec.md §4.7 step 5).
type RefreshNotifier func(conversationID string)

// EventSink receives every raw AgentEvent emitted by the engine during a
// run, tagged with the conversation it belongs to — the seam a live
// PresentationSink such as wsfeed.Feed.Broadcast attaches to (spec.md §9
// "the engine depends only on abstractions ... a channel for events").
type EventSink func(conversationID string, event contract.AgentEvent)

// Config configures a Controller.
type Config struct {
	Store           ConversationStore
	ContextMessages ContextProvider
	Supplier        AgentSupplier
	Refresh         RefreshNotifier
	Events          EventSink
}

// StatusUpdate is one deduplicated status line merged into a run handle
// (spec.md §4.7 "Merge semantics for status_updates").
type StatusUpdate struct {
	Raw    string
	At     time.Time
	Status string
}

type statusKey struct {
	raw    string
	at     time.Time
	status string
}

type mergedToolEntry struct {
	callID string
	snap   contract.ToolResultSnapshot
}

// RunHandle is the live state of one in-flight (or just-finished)
// submission: its cancellation token plus whatever has streamed in so far.
type RunHandle struct {
	ConversationID string
	Prompt         string
	PromptAt       time.Time
	Cancel         *cancel.Source

	mu            sync.Mutex
	toolIndex     map[string]int
	toolEntries   []mergedToolEntry
	statusSeen    map[statusKey]bool
	statusUpdates []StatusUpdate

	done   chan struct{}
	result contract.AgentRunPayload
}

func newRunHandle(conversationID, prompt string, promptAt time.Time) *RunHandle {
	return &RunHandle{
		ConversationID: conversationID,
		Prompt:         prompt,
		PromptAt:       promptAt,
		Cancel:         cancel.New(),
		toolIndex:      make(map[string]int),
		statusSeen:     make(map[statusKey]bool),
		done:           make(chan struct{}),
	}
}

// MergeToolSnapshots applies spec.md §4.7's additive-per-call_id merge: a
// new payload with a seen call_id replaces the prior one in place; a
// call_id never seen before is appended; a payload without a call_id
// (orphan) is always appended.
func (h *RunHandle) MergeToolSnapshots(snaps []contract.ToolResultSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range snaps {
		if s.CallID == "" {
			h.toolEntries = append(h.toolEntries, mergedToolEntry{snap: s})
			continue
		}
		if idx, ok := h.toolIndex[s.CallID]; ok {
			h.toolEntries[idx].snap = s
			continue
		}
		h.toolIndex[s.CallID] = len(h.toolEntries)
		h.toolEntries = append(h.toolEntries, mergedToolEntry{callID: s.CallID, snap: s})
	}
}

// ToolSnapshots returns the merged, ordered tool snapshot list.
func (h *RunHandle) ToolSnapshots() []contract.ToolResultSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]contract.ToolResultSnapshot, len(h.toolEntries))
	for i, e := range h.toolEntries {
		out[i] = e.snap
	}
	return out
}

// MergeStatusUpdate deduplicates by the (raw, at, status) tuple (spec.md
// §4.7 "Merge semantics for status_updates").
func (h *RunHandle) MergeStatusUpdate(u StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := statusKey{raw: u.Raw, at: u.At, status: u.Status}
	if h.statusSeen[key] {
		return
	}
	h.statusSeen[key] = true
	h.statusUpdates = append(h.statusUpdates, u)
}

// StatusUpdates returns the deduplicated status updates observed so far.
func (h *RunHandle) StatusUpdates() []StatusUpdate {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]StatusUpdate, len(h.statusUpdates))
	copy(out, h.statusUpdates)
	return out
}

// Wait blocks until the submitted run finishes and returns its payload.
func (h *RunHandle) Wait() contract.AgentRunPayload {
	<-h.done
	return h.result
}

func (h *RunHandle) finish(payload contract.AgentRunPayload) {
	h.result = payload
	close(h.done)
}

// Controller is a thin scheduler owning one FIFO worker and at most one
// active run handle.
type Controller struct {
	cfg Config

	jobs chan func()

	mu     sync.Mutex
	active *RunHandle
}

// New builds a Controller and starts its single worker goroutine.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg, jobs: make(chan func(), 32)}
	go c.worker()
	return c
}

func (c *Controller) worker() {
	for job := range c.jobs {
		job()
	}
}

// IsIdle reports whether no run is currently active.
func (c *Controller) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == nil
}

// SubmitPrompt implements spec.md §4.7 submit_prompt.
func (c *Controller) SubmitPrompt(ctx context.Context, prompt string, promptAt *time.Time) (*RunHandle, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return nil, contract.NewError(contract.ErrValidation, "prompt must not be empty", nil)
	}

	at := time.Now()
	if promptAt != nil {
		at = *promptAt
	}

	conversationID, err := c.cfg.Store.EnsureActiveConversation(ctx)
	if err != nil {
		return nil, contract.NewError(contract.ErrInternal, "failed to ensure active conversation: "+err.Error(), nil)
	}

	handle := newRunHandle(conversationID, trimmed, at)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, contract.NewError(contract.ErrConflict, "a run is already active for this conversation", nil)
	}
	c.active = handle
	c.mu.Unlock()

	history, err := c.cfg.Store.ConversationMessages(ctx, conversationID)
	if err != nil {
		c.clearActive()
		return nil, contract.NewError(contract.ErrInternal, "failed to load conversation history: "+err.Error(), nil)
	}

	var contextMessages []contract.ConversationMessage
	if c.cfg.ContextMessages != nil {
		contextMessages = c.cfg.ContextMessages(ctx, conversationID, trimmed)
	}

	pending := &contract.ChatEntry{
		Prompt:          trimmed,
		DisplayResponse: "…",
		PromptAt:        at,
		ContextMessages: contextMessages,
		TimelineStatus:  contract.TimelineUnknown,
		TokenInfo:       contract.TokenInfo{PromptTokens: EstimateTokens(trimmed)},
	}
	if err := c.cfg.Store.AppendPendingEntry(ctx, conversationID, pending); err != nil {
		c.clearActive()
		return nil, contract.NewError(contract.ErrInternal, "failed to append pending entry: "+err.Error(), nil)
	}
	if c.cfg.Refresh != nil {
		c.cfg.Refresh(conversationID)
	}

	c.jobs <- func() {
		c.runAndFinalize(ctx, handle, history, contextMessages, pending)
	}

	return handle, nil
}

func (c *Controller) runAndFinalize(ctx context.Context, handle *RunHandle, history, contextMessages []contract.ConversationMessage, pending *contract.ChatEntry) {
	defer c.clearActive()

	runner := c.cfg.Supplier()
	obs := engine.Observer{
		OnToolSnapshots: handle.MergeToolSnapshots,
	}
	if c.cfg.Events != nil {
		obs.OnEvent = func(event contract.AgentEvent) {
			c.cfg.Events(handle.ConversationID, event)
		}
	}
	payload := runner.Run(ctx, handle.Cancel, engine.Input{
		Prompt:          handle.Prompt,
		History:         history,
		ContextMessages: contextMessages,
	}, obs)

	handle.finish(payload)

	if err := c.cfg.Store.FinalizePrompt(ctx, handle.ConversationID, pending, payload); err != nil {
		// The run itself is complete and its payload has already been
		// delivered to the handle; a persistence failure here is surfaced
		// to whoever owns the store, not folded into the run's own result.
		return
	}
	if c.cfg.Refresh != nil {
		c.cfg.Refresh(handle.ConversationID)
	}
}

func (c *Controller) clearActive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// Stop cancels the active handle, if any, and returns it.
func (c *Controller) Stop() *RunHandle {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active != nil {
		active.Cancel.Cancel()
	}
	return active
}

// Regenerate implements spec.md §4.7 regenerate: only the last entry in
// its conversation, and only while idle, may be regenerated.
func (c *Controller) Regenerate(ctx context.Context, conversationID string) (*RunHandle, error) {
	if !c.IsIdle() {
		return nil, contract.NewError(contract.ErrConflict, "cannot regenerate while a run is active", nil)
	}

	entry, err := c.cfg.Store.LastEntry(ctx, conversationID)
	if err != nil {
		return nil, contract.NewError(contract.ErrInternal, "failed to load last entry: "+err.Error(), nil)
	}
	if entry == nil {
		return nil, contract.NewError(contract.ErrNotFound, "conversation has no entries to regenerate", nil)
	}

	if err := c.cfg.Store.MarkRegenerated(ctx, conversationID, entry); err != nil {
		return nil, contract.NewError(contract.ErrInternal, "failed to mark entry regenerated: "+err.Error(), nil)
	}

	return c.SubmitPrompt(ctx, entry.Prompt, nil)
}
