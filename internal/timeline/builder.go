package timeline

import (
	"sort"
	"time"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// Build assembles the canonical timeline for one run from its three
// source-of-truth pieces (spec.md §4.8): the engine's raw event log, the
// final tool-result snapshots, and the LLM step trace. It always returns a
// usable timeline, even from a partial run left behind by a mid-flight
// cancellation (events and trace may be shorter than tool_results, or vice
// versa).
func Build(events contract.AgentEventLog, toolResults []contract.ToolResultSnapshot, trace contract.LlmTrace) ([]contract.AgentTimelineEntry, string, error) {
	stepSeq, toolSeq, terminal := indexEvents(events)

	entries := make([]contract.AgentTimelineEntry, 0, len(trace.Steps)+len(toolResults)+1)

	for _, step := range trace.Steps {
		idx := step.Index
		seq := -1
		if s, ok := stepSeq[step.Index]; ok {
			seq = s
		}
		entries = append(entries, contract.AgentTimelineEntry{
			Kind:       contract.TimelineLLMStep,
			Sequence:   seq,
			OccurredAt: step.OccurredAt,
			StepIndex:  &idx,
		})
	}

	for _, snap := range toolResults {
		seq := -1
		if s, ok := toolSeq[snap.CallID]; ok {
			seq = s
		}
		entries = append(entries, contract.AgentTimelineEntry{
			Kind:       contract.TimelineToolCall,
			Sequence:   seq,
			OccurredAt: toolObservedAt(snap),
			CallID:     snap.CallID,
			Status:     string(snap.Status),
		})
	}

	if terminal != nil {
		entries = append(entries, *terminal)
	}

	sortEntries(entries)
	for i := range entries {
		entries[i].Sequence = i
	}

	checksum, err := Checksum(entries)
	if err != nil {
		return entries, "", err
	}
	return entries, checksum, nil
}

// indexEvents pulls the sequence number the engine assigned to each
// llm_step (keyed by step_index) and each tool_call (keyed by call_id) out
// of the raw event log, plus the single terminal agent_finished/
// agent_cancelled entry if one was recorded.
func indexEvents(events contract.AgentEventLog) (map[int]int, map[string]int, *contract.AgentTimelineEntry) {
	stepSeq := make(map[int]int)
	toolSeq := make(map[string]int)
	var terminal *contract.AgentTimelineEntry

	for _, ev := range events {
		switch ev.Kind {
		case contract.EventLLMStep:
			if idx, ok := intFromPayload(ev.Payload, "step_index"); ok {
				stepSeq[idx] = ev.Sequence
			}
		case contract.EventToolStarted:
			if callID, ok := stringFromPayload(ev.Payload, "call_id"); ok {
				toolSeq[callID] = ev.Sequence
			}
		case contract.EventAgentFinished, contract.EventAgentCancelled:
			status := "succeeded"
			if ev.Kind == contract.EventAgentCancelled {
				status = "cancelled"
			}
			if s, ok := stringFromPayload(ev.Payload, "status"); ok {
				status = s
			}
			seq := ev.Sequence
			terminal = &contract.AgentTimelineEntry{
				Kind:       contract.TimelineAgentFinished,
				Sequence:   seq,
				OccurredAt: ev.OccurredAt,
				Status:     status,
			}
		}
	}
	return stepSeq, toolSeq, terminal
}

func intFromPayload(payload map[string]any, key string) (int, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringFromPayload(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func toolObservedAt(snap contract.ToolResultSnapshot) time.Time {
	if snap.StartedAt != nil {
		return *snap.StartedAt
	}
	if snap.LastObservedAt != nil {
		return *snap.LastObservedAt
	}
	return time.Time{}
}

// sortEntries orders chronologically by occurred_at — always available
// once synthesized from llm_trace/tool_results per spec.md §4.8 step 2 —
// falling back to the event-assigned sequence, then a deterministic
// (kind, call_id) tie-break when timestamps collide (spec.md §4.8 step 3).
func sortEntries(entries []contract.AgentTimelineEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.CallID < b.CallID
	})
}
