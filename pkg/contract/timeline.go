package contract

import "time"

// TimelineEntryKind is the kind discriminator for a canonical timeline entry.
type TimelineEntryKind string

const (
	TimelineLLMStep       TimelineEntryKind = "llm_step"
	TimelineToolCall      TimelineEntryKind = "tool_call"
	TimelineAgentFinished TimelineEntryKind = "agent_finished"
)

// AgentTimelineEntry is one canonical, ordered item of a run: one per LLM
// step, one per tool call, and exactly one terminal agent_finished entry.
// Only the six fields below feed the checksum (see internal/timeline).
type AgentTimelineEntry struct {
	Kind       TimelineEntryKind `json:"kind"`
	Sequence   int               `json:"sequence"`
	OccurredAt time.Time         `json:"occurred_at"`
	StepIndex  *int              `json:"step_index,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Status     string            `json:"status,omitempty"`
}

// RunStatus is the terminal outcome of an agent run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// AgentRunPayload is the finalized, auditable result of one agent turn. Its
// field order mirrors spec.md §3 so that to-JSON output is stable across
// implementations and across persist/reload cycles (spec.md §8 property 6).
type AgentRunPayload struct {
	OK               bool                 `json:"ok"`
	Status           RunStatus            `json:"status"`
	ResultText       string               `json:"result_text"`
	Reasoning        []ReasoningSeg       `json:"reasoning,omitempty"`
	ToolResults      []ToolResultSnapshot `json:"tool_results"`
	LlmTrace         LlmTrace             `json:"llm_trace"`
	Events           AgentEventLog        `json:"events"`
	Timeline         []AgentTimelineEntry `json:"timeline"`
	TimelineChecksum string               `json:"timeline_checksum"`
	Error            *Error               `json:"error,omitempty"`
	Diagnostic       map[string]any       `json:"diagnostic,omitempty"`
}

// Normalize enforces the invariants spec.md §3 asks of a finalized payload:
// tool_results sorted by (sequence, started_at, call_id), OK mirrors status,
// and diagnostic never re-carries the event log (events is authoritative).
func (p *AgentRunPayload) Normalize() {
	p.OK = p.Status == RunSucceeded
	sortToolResults(p.ToolResults)
	if p.Diagnostic != nil {
		delete(p.Diagnostic, "event_log")
		if len(p.Diagnostic) == 0 {
			p.Diagnostic = nil
		}
	}
}

func sortToolResults(results []ToolResultSnapshot) {
	// insertion sort: run payloads carry a handful of tool calls, and this
	// keeps the comparison (sequence, started_at, call_id) easy to read.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && toolResultLess(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func toolResultLess(a, b ToolResultSnapshot) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	at := timeOrZero(a.StartedAt)
	bt := timeOrZero(b.StartedAt)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.CallID < b.CallID
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
