package contract

import "time"

// ToolStatus is the lifecycle state of one tool invocation.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolSucceeded ToolStatus = "succeeded"
	ToolFailed    ToolStatus = "failed"
)

// ToolEventKind identifies a micro-event within a tool's lifecycle.
type ToolEventKind string

const (
	ToolEventStarted   ToolEventKind = "started"
	ToolEventUpdate    ToolEventKind = "update"
	ToolEventCompleted ToolEventKind = "completed"
	ToolEventFailed    ToolEventKind = "failed"
)

// ToolTimelineEvent is one chronological micro-event reported while a tool
// call runs (started / update / completed / failed).
type ToolTimelineEvent struct {
	Kind       ToolEventKind `json:"kind"`
	OccurredAt time.Time     `json:"occurred_at"`
	Message    string        `json:"message,omitempty"`
}

// ToolMetrics carries optional cost/duration accounting surfaced to the UI.
type ToolMetrics struct {
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
	Cost            map[string]any `json:"cost,omitempty"`
}

// ToolResultSnapshot is the observable state of one tool invocation, keyed
// by the LLM-chosen call_id. Once Status reaches succeeded or failed it must
// not regress — callers mutate it only through MarkRunning/MarkSucceeded/
// MarkFailed/AddEvent, which enforce that invariant.
type ToolResultSnapshot struct {
	CallID         string              `json:"call_id"`
	ToolName       string              `json:"tool_name"`
	Status         ToolStatus          `json:"status"`
	Arguments      any                 `json:"arguments,omitempty"`
	Result         any                 `json:"result,omitempty"`
	Error          *Error              `json:"error,omitempty"`
	Events         []ToolTimelineEvent `json:"events,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	LastObservedAt *time.Time          `json:"last_observed_at,omitempty"`
	Metrics        ToolMetrics         `json:"metrics"`
	Sequence       int                 `json:"sequence"`
}

// terminal reports whether the snapshot has already reached a terminal
// status; once true, Status must never change again.
func (s *ToolResultSnapshot) terminal() bool {
	return s.Status == ToolSucceeded || s.Status == ToolFailed
}

// AddEvent appends a micro-event and refreshes LastObservedAt. It never
// mutates Status; callers use the Mark* helpers for that.
func (s *ToolResultSnapshot) AddEvent(kind ToolEventKind, at time.Time, message string) {
	s.Events = append(s.Events, ToolTimelineEvent{Kind: kind, OccurredAt: at, Message: message})
	s.LastObservedAt = &at
}

// MarkRunning transitions a pending snapshot to running. No-op if the
// snapshot already reached a terminal status.
func (s *ToolResultSnapshot) MarkRunning(at time.Time) {
	if s.terminal() {
		return
	}
	s.Status = ToolRunning
	s.StartedAt = &at
	s.AddEvent(ToolEventStarted, at, "")
}

// MarkSucceeded transitions the snapshot to its terminal succeeded state.
func (s *ToolResultSnapshot) MarkSucceeded(at time.Time, result any) {
	if s.terminal() {
		return
	}
	s.Status = ToolSucceeded
	s.Result = result
	s.CompletedAt = &at
	duration := at.Sub(s.startedOrNow(at)).Seconds()
	s.Metrics.DurationSeconds = &duration
	s.AddEvent(ToolEventCompleted, at, "")
}

// MarkFailed transitions the snapshot to its terminal failed state.
func (s *ToolResultSnapshot) MarkFailed(at time.Time, err *Error) {
	if s.terminal() {
		return
	}
	s.Status = ToolFailed
	s.Error = err
	s.CompletedAt = &at
	duration := at.Sub(s.startedOrNow(at)).Seconds()
	s.Metrics.DurationSeconds = &duration
	s.AddEvent(ToolEventFailed, at, errMessage(err))
}

func (s *ToolResultSnapshot) startedOrNow(now time.Time) time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return now
}

func errMessage(err *Error) string {
	if err == nil {
		return ""
	}
	return err.Message
}
