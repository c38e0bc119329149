package contract

import "time"

// AgentEventKind identifies the kind of event in the engine's event stream.
type AgentEventKind string

const (
	EventLLMStepStarted AgentEventKind = "llm_step_started"
	EventLLMStep        AgentEventKind = "llm_step"
	EventToolStarted    AgentEventKind = "tool_started"
	EventToolUpdate     AgentEventKind = "tool_update"
	EventToolCompleted  AgentEventKind = "tool_completed"
	EventToolFailed     AgentEventKind = "tool_failed"
	EventAgentFinished  AgentEventKind = "agent_finished"
	EventAgentCancelled AgentEventKind = "agent_cancelled"
)

// AgentEvent is one entry in the engine's event stream. Sequence is strictly
// increasing within one run; Payload is kind-specific.
type AgentEvent struct {
	Kind       AgentEventKind `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Sequence   int            `json:"sequence"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// AgentEventLog is the full, ordered event stream captured during a run.
type AgentEventLog []AgentEvent

// NextSequence returns the next strictly-increasing sequence number for a
// log: zero for an empty log, otherwise one more than the highest sequence
// seen so far (not merely len(log), so callers that interleave tool
// snapshot sequences into the same counter stay consistent).
func (l AgentEventLog) NextSequence() int {
	max := -1
	for _, e := range l {
		if e.Sequence > max {
			max = e.Sequence
		}
	}
	return max + 1
}
