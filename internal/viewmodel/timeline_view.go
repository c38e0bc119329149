// Package viewmodel implements the Conversation Timeline View Model
// (spec.md §4.10): a pure transform from a persisted ChatConversation into
// a display-ready ConversationTimeline, with per-entry caching so a UI can
// re-render cheaply after a single new entry is appended.
//
// Grounded on the teacher's internal/gateway/event_timeline.go, which
// converts the runtime's raw AgentEvent stream into the observability
// layer's own event shape with one switch over event kind per source
// field; the same "pure derive, one case per source shape" style is
// applied here to AgentTimelineEntry/ToolResultSnapshot/LlmStep instead.
package viewmodel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// TimestampSource names which field a rendered timestamp was taken from,
// so the UI can render provenance or fall back gracefully.
type TimestampSource string

const (
	TimestampResponseAt  TimestampSource = "response_at"
	TimestampLLMStep     TimestampSource = "llm_step"
	TimestampToolStarted TimestampSource = "tool_started"
	TimestampSynthesized TimestampSource = "synthesized"
)

// Timestamp carries a display time plus enough provenance for the UI to
// render a "no timestamp" placeholder without losing the distinction
// between "genuinely missing" and "derived".
type Timestamp struct {
	At      time.Time
	Source  TimestampSource
	Missing bool
}

// ToolCallSummary is one rendered tool invocation within a turn.
type ToolCallSummary struct {
	CallID    string
	ToolName  string
	Status    contract.ToolStatus
	Sequence  int
	StartedAt Timestamp
	Preview   string
	ErrorLine string
}

// AgentTurn is the synthesized agent-side half of one prompt/response
// exchange (spec.md §4.10 second bullet).
type AgentTurn struct {
	FinalResponse     string
	StreamedResponses []string
	ToolCalls         []ToolCallSummary
	Reasoning         []contract.ReasoningSeg
	Events            []contract.AgentTimelineEntry
}

// PromptSnapshot is the user-side half of one exchange.
type PromptSnapshot struct {
	Prompt   string
	PromptAt Timestamp
}

// TurnView pairs one entry's prompt and (if available) its synthesized
// agent turn, plus layout hints for the UI.
type TurnView struct {
	Prompt      PromptSnapshot
	Turn        *AgentTurn
	Regenerated bool
}

// ConversationTimeline is the fully rendered view model for one
// conversation.
type ConversationTimeline struct {
	ConversationID string
	Turns          []TurnView
}

// Build derives a ConversationTimeline from a conversation with no caching.
func Build(conversationID string, conv *contract.ChatConversation) ConversationTimeline {
	if conv == nil {
		return ConversationTimeline{ConversationID: conversationID}
	}
	turns := make([]TurnView, len(conv.Entries))
	for i, entry := range conv.Entries {
		turns[i] = buildTurn(entry)
	}
	return ConversationTimeline{ConversationID: conversationID, Turns: turns}
}

func buildTurn(entry *contract.ChatEntry) TurnView {
	view := TurnView{
		Prompt: PromptSnapshot{
			Prompt:   entry.Prompt,
			PromptAt: Timestamp{At: entry.PromptAt, Source: TimestampSynthesized},
		},
		Regenerated: entry.Regenerated,
	}
	if entry.ResponseAt == nil && entry.RawResult == nil {
		// still pending: no agent turn to synthesize yet.
		return view
	}
	view.Turn = synthesizeTurn(entry)
	return view
}

// synthesizeTurn implements spec.md §4.10's second bullet: final_response,
// streamed_responses (deduplicated against final), tool_calls (sorted by
// (sequence, started_at, call_id)), reasoning from the terminal step, and
// the raw event sequence for rendering.
func synthesizeTurn(entry *contract.ChatEntry) *AgentTurn {
	turn := &AgentTurn{FinalResponse: entry.DisplayResponse}

	var steps []contract.LlmStep
	var toolResults []contract.ToolResultSnapshot
	var events []contract.AgentTimelineEntry
	if entry.RawResult != nil {
		steps = entry.RawResult.LlmTrace.Steps
		toolResults = entry.RawResult.ToolResults
		events = entry.RawResult.Timeline
	}

	if len(steps) > 0 {
		terminal := steps[len(steps)-1]
		if terminal.Response.Content != nil && *terminal.Response.Content != "" {
			turn.FinalResponse = *terminal.Response.Content
		}
		turn.Reasoning = terminal.Response.Reasoning

		seen := map[string]bool{turn.FinalResponse: true}
		for _, step := range steps[:len(steps)-1] {
			if step.Response.Content == nil {
				continue
			}
			text := *step.Response.Content
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true
			turn.StreamedResponses = append(turn.StreamedResponses, text)
		}
	} else if len(entry.Reasoning) > 0 {
		turn.Reasoning = entry.Reasoning
	}

	turn.ToolCalls = buildToolSummaries(toolResults)
	turn.Events = events
	return turn
}

func buildToolSummaries(results []contract.ToolResultSnapshot) []ToolCallSummary {
	if len(results) == 0 {
		return nil
	}
	summaries := make([]ToolCallSummary, len(results))
	for i, r := range results {
		summaries[i] = ToolCallSummary{
			CallID:    r.CallID,
			ToolName:  r.ToolName,
			Status:    r.Status,
			Sequence:  r.Sequence,
			StartedAt: toolStartedAt(r),
			Preview:   toolPreview(r),
			ErrorLine: toolErrorLine(r),
		}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if !a.StartedAt.At.Equal(b.StartedAt.At) {
			return a.StartedAt.At.Before(b.StartedAt.At)
		}
		return a.CallID < b.CallID
	})
	return summaries
}

func toolStartedAt(r contract.ToolResultSnapshot) Timestamp {
	if r.StartedAt != nil {
		return Timestamp{At: *r.StartedAt, Source: TimestampToolStarted}
	}
	return Timestamp{Missing: true, Source: TimestampToolStarted}
}

// toolPreview renders a compact human-readable preview for a few tools
// with naturally large payloads (spec.md §4.10 third bullet); every other
// tool gets no preview and the UI falls back to a generic summary.
func toolPreview(r contract.ToolResultSnapshot) string {
	if r.Status != contract.ToolSucceeded {
		return ""
	}
	switch r.ToolName {
	case "read_user_document":
		text, ok := stringResultField(r.Result, "content")
		if !ok {
			return ""
		}
		return firstNLines(text, 5)
	case "create_user_document":
		args, ok := r.Arguments.(map[string]any)
		if !ok {
			return ""
		}
		content, ok := args["content"].(string)
		if !ok {
			return ""
		}
		return firstNLines(content, 3)
	default:
		return ""
	}
}

func stringResultField(result any, field string) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[field].(string)
	return s, ok
}

func firstNLines(text string, n int) string {
	lines := strings.SplitN(text, "\n", n+1)
	truncated := len(lines) > n
	if truncated {
		lines = lines[:n]
	}
	preview := strings.Join(lines, "\n")
	if truncated {
		preview += "\n…"
	}
	return preview
}

// toolErrorLine flattens a failed tool's error payload into one bullet
// line carrying its code and message (spec.md §4.10 third bullet).
func toolErrorLine(r contract.ToolResultSnapshot) string {
	if r.Status != contract.ToolFailed || r.Error == nil {
		return ""
	}
	if r.Error.Code != "" {
		return string(r.Error.Code) + ": " + r.Error.Message
	}
	return r.Error.Message
}

// Cache memoizes per-entry AgentTurns, keyed by conversation id and each
// entry's own checksum fingerprint, invalidating only the entries whose
// fingerprint changed (spec.md §4.10 fourth bullet) rather than
// recomputing the whole conversation on every append.
type Cache struct {
	mu            sync.Mutex
	conversations map[string]map[int]cachedTurn
}

type cachedTurn struct {
	fingerprint string
	view        TurnView
}

// NewCache builds an empty view-model cache.
func NewCache() *Cache {
	return &Cache{conversations: make(map[string]map[int]cachedTurn)}
}

// BuildWithCache derives a ConversationTimeline, reusing any cached
// AgentTurn whose entry fingerprint has not changed since it was built.
func (c *Cache) BuildWithCache(conversationID string, conv *contract.ChatConversation) ConversationTimeline {
	if conv == nil {
		return ConversationTimeline{ConversationID: conversationID}
	}

	c.mu.Lock()
	byIndex, ok := c.conversations[conversationID]
	if !ok {
		byIndex = make(map[int]cachedTurn)
		c.conversations[conversationID] = byIndex
	}
	c.mu.Unlock()

	turns := make([]TurnView, len(conv.Entries))
	fresh := make(map[int]cachedTurn, len(conv.Entries))
	for i, entry := range conv.Entries {
		fp := entryFingerprint(entry)

		c.mu.Lock()
		cached, hit := byIndex[i]
		c.mu.Unlock()

		if hit && cached.fingerprint == fp {
			turns[i] = cached.view
			fresh[i] = cached
			continue
		}

		view := buildTurn(entry)
		turns[i] = view
		fresh[i] = cachedTurn{fingerprint: fp, view: view}
	}

	c.mu.Lock()
	c.conversations[conversationID] = fresh
	c.mu.Unlock()

	return ConversationTimeline{ConversationID: conversationID, Turns: turns}
}

// InvalidateConversation drops every cached turn for one conversation,
// e.g. once it is deleted.
func (c *Cache) InvalidateConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, conversationID)
}

// entryFingerprint combines the signals spec.md §4.10 names for cache
// invalidation: the entry's timeline checksum (covers the whole agent
// turn) plus its response_at (covers regeneration, which changes
// response_at without necessarily changing an empty/missing checksum) and
// its regenerated flag.
func entryFingerprint(entry *contract.ChatEntry) string {
	var responseAt string
	if entry.ResponseAt != nil {
		responseAt = entry.ResponseAt.Format(time.RFC3339Nano)
	}
	regenerated := "0"
	if entry.Regenerated {
		regenerated = "1"
	}
	return entry.TimelineChecksum + "|" + responseAt + "|" + regenerated
}
