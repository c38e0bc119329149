package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// TimelineStatus is the result of reassessing a persisted timeline's
// integrity on load (internal/timeline.AssessIntegrity).
type TimelineStatus string

const (
	TimelineValid   TimelineStatus = "valid"
	TimelineDamaged TimelineStatus = "damaged"
	TimelineMissing TimelineStatus = "missing"
	TimelineUnknown TimelineStatus = "unknown"
)

// ModelTokenCount is a cached token count for one model, invalidated when
// the digest of the underlying text no longer matches.
type ModelTokenCount struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// TokenCache holds per-model token counts for the prompt, response, and
// context-message blob of one chat entry.
type TokenCache struct {
	Prompt   map[string]ModelTokenCount `json:"prompt,omitempty"`
	Response map[string]ModelTokenCount `json:"response,omitempty"`
	Context  map[string]ModelTokenCount `json:"context,omitempty"`
}

// TokenInfo is the denormalized, currently-active token counts for display.
type TokenInfo struct {
	PromptTokens   int `json:"prompt_tokens,omitempty"`
	ResponseTokens int `json:"response_tokens,omitempty"`
	ContextTokens  int `json:"context_tokens,omitempty"`
}

// DigestText returns the SHA-256 hex digest of a prompt/response string, the
// key used to invalidate a model's cached token count.
func DigestText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DigestContextMessages returns the SHA-256 hex digest of the canonical JSON
// encoding of a context-message slice, used the same way as DigestText but
// for the context-messages cache bucket.
func DigestContextMessages(messages []ConversationMessage) string {
	payload, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ChatEntry is one persistable prompt/response exchange. The core does not
// implement the store; this type and the invariants on it (spec.md §4.9)
// are what any sidecar store must uphold.
type ChatEntry struct {
	Prompt          string                 `json:"prompt"`
	Response        string                 `json:"response"`
	DisplayResponse string                 `json:"display_response"`
	PromptAt        time.Time              `json:"prompt_at"`
	ResponseAt      *time.Time             `json:"response_at,omitempty"`
	RawResult       *AgentRunPayload       `json:"raw_result,omitempty"`
	TokenInfo       TokenInfo              `json:"token_info"`
	TokenCache      TokenCache             `json:"token_cache"`
	ContextMessages []ConversationMessage  `json:"context_messages,omitempty"`
	Reasoning       []ReasoningSeg         `json:"reasoning,omitempty"`
	ToolMessages    []string               `json:"tool_messages,omitempty"`
	TimelineStatus  TimelineStatus         `json:"timeline_status"`
	TimelineChecksum string                `json:"timeline_checksum,omitempty"`
	Regenerated     bool                   `json:"regenerated,omitempty"`
}

// ChatConversation is an ordered list of chat entries persisted by the
// sidecar store; the core only ever reads/derives from it.
type ChatConversation struct {
	ConversationID string       `json:"conversation_id"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Entries        []*ChatEntry `json:"entries"`
}

// Title derives a short conversation title from the first entry's prompt,
// truncated to keep list views compact.
func (c *ChatConversation) Title() string {
	for _, e := range c.Entries {
		if e == nil || e.Prompt == "" {
			continue
		}
		return truncateRunes(e.Prompt, 60)
	}
	return ""
}

// Preview derives a short preview from the most recent non-regenerated
// entry's display response.
func (c *ChatConversation) Preview() string {
	for i := len(c.Entries) - 1; i >= 0; i-- {
		e := c.Entries[i]
		if e == nil || e.Regenerated {
			continue
		}
		if e.DisplayResponse != "" {
			return truncateRunes(e.DisplayResponse, 120)
		}
	}
	return ""
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
