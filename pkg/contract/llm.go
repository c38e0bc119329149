package contract

import (
	"encoding/json"
	"time"
)

// ConversationMessage is the neutral, provider-agnostic message shape the
// engine assembles and the LLM client translates to/from the wire format.
type ConversationMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolCallAsk    `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	Reasoning  []ReasoningSeg   `json:"reasoning,omitempty"`
}

// ToolCallAsk is one tool invocation requested by the LLM within a response.
type ToolCallAsk struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ReasoningSeg is one reasoning/thinking segment. LeadingWhitespace and
// TrailingWhitespace are preserved verbatim so that adjacent segments of the
// same type can be rejoined byte-for-byte for transcript fidelity.
type ReasoningSeg struct {
	Type               string `json:"type"`
	Text               string `json:"text"`
	LeadingWhitespace  string `json:"leading_whitespace,omitempty"`
	TrailingWhitespace string `json:"trailing_whitespace,omitempty"`
}

// LLMResponse is what the LLM client returns for one request/response round
// trip: optional visible text, zero or more tool calls, and any reasoning
// segments the backend streamed alongside them.
type LLMResponse struct {
	Content   *string        `json:"content,omitempty"`
	ToolCalls []ToolCallAsk  `json:"tool_calls,omitempty"`
	Reasoning []ReasoningSeg `json:"reasoning,omitempty"`
}

// LlmStep is one request/response round-trip with the LLM backend.
type LlmStep struct {
	Index      int                    `json:"index"`
	OccurredAt time.Time              `json:"occurred_at"`
	Request    []ConversationMessage  `json:"request"`
	Response   LLMResponse            `json:"response"`
}

// LlmTrace is the ordered sequence of LLM steps taken during one run.
type LlmTrace struct {
	Steps []LlmStep `json:"steps"`
}
