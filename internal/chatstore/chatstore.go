// Package chatstore is an in-memory reference implementation of the Chat
// Entry & Conversation Store Contract (spec.md §4.9). The core never
// specifies how persistence is done, only the invariants a store must
// uphold; this package exists to prove those invariants are satisfiable
// and to give internal/controller something concrete to run its tests
// against.
//
// Grounded on the teacher's internal/artifacts.PersistentRepository: its
// split between an always-resident metadata map and a body fetched from a
// backing Store only on demand is adapted here into ChatEntry's own
// metadata/raw_result split — ConversationMessages and listing only ever
// touch the lightweight entry, while ReadRawResult does the on-demand
// "body" load and is where canonicalization and corruption handling live.
package chatstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// record is what the store actually keeps for one entry: the lightweight
// ChatEntry (always resident) plus the entry's raw_result kept separately
// as its last-persisted canonical JSON bytes, mirroring how a real
// on-disk store would keep a small metadata index and a larger body blob
// apart. A record whose body bytes are corrupt is never un-loadable after
// the fact — it is elided once, at load/list time, and logged.
type record struct {
	entry     *contract.ChatEntry
	bodyBytes []byte
	corrupt   bool
}

// Store is an in-memory, conversation-scoped ChatEntry store.
type Store struct {
	mu            sync.RWMutex
	logger        *obslog.Logger
	conversations map[string]*contract.ChatConversation
	records       map[string]map[int]*record // conversationID -> entry index -> record
}

// New builds an empty Store.
func New(logger *obslog.Logger) *Store {
	return &Store{
		logger:        logger,
		conversations: make(map[string]*contract.ChatConversation),
		records:       make(map[string]map[int]*record),
	}
}

// EnsureActiveConversation returns the single active conversation id,
// creating one on first use. This reference store only ever tracks one
// conversation at a time, matching the single local chat session the
// controller is built around (spec.md §1's UI/channel non-goal).
func (s *Store) EnsureActiveConversation(ctx context.Context) (string, error) {
	const activeID = "active"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[activeID]; !ok {
		now := time.Now()
		s.conversations[activeID] = &contract.ChatConversation{ConversationID: activeID, CreatedAt: now, UpdatedAt: now}
		s.records[activeID] = make(map[int]*record)
	}
	return activeID, nil
}

// ConversationMessages flattens a conversation's entries into the
// [user, assistant]* message pairs an engine run uses as history.
func (s *Store) ConversationMessages(ctx context.Context, conversationID string) ([]contract.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	var out []contract.ConversationMessage
	for _, entry := range conv.Entries {
		if entry.ResponseAt == nil {
			continue // still pending, not yet part of history
		}
		out = append(out,
			contract.ConversationMessage{Role: "user", Content: entry.Prompt},
			contract.ConversationMessage{Role: "assistant", Content: entry.DisplayResponse, Reasoning: entry.Reasoning},
		)
	}
	return out, nil
}

// AppendPendingEntry appends a not-yet-finalized entry and returns once it
// is visible to ConversationMessages/LastEntry readers.
func (s *Store) AppendPendingEntry(ctx context.Context, conversationID string, entry *contract.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("unknown conversation %q", conversationID)
	}
	conv.Entries = append(conv.Entries, entry)
	conv.UpdatedAt = time.Now()

	idx := len(conv.Entries) - 1
	s.records[conversationID][idx] = &record{entry: entry}
	return nil
}

// FinalizePrompt fills in an entry's response fields from a finished run
// payload, computes its token caches, and persists its canonical
// raw_result bytes — the write half of the round-trip invariant.
func (s *Store) FinalizePrompt(ctx context.Context, conversationID string, entry *contract.ChatEntry, payload contract.AgentRunPayload) error {
	now := time.Now()
	entry.Response = payload.ResultText
	entry.DisplayResponse = payload.ResultText
	entry.ResponseAt = &now
	entry.RawResult = &payload
	entry.Reasoning = payload.Reasoning
	entry.TimelineChecksum = payload.TimelineChecksum
	if payload.Error != nil {
		entry.TimelineStatus = contract.TimelineDamaged
	} else {
		entry.TimelineStatus = contract.TimelineValid
	}
	updateTokenCache(entry)

	body, err := canonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("canonicalize raw_result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("unknown conversation %q", conversationID)
	}
	conv.UpdatedAt = now
	for idx, e := range conv.Entries {
		if e == entry {
			s.records[conversationID][idx] = &record{entry: entry, bodyBytes: body}
			return nil
		}
	}
	return fmt.Errorf("entry not found in conversation %q", conversationID)
}

// LastEntry returns the conversation's most recent entry, or nil if it has
// none yet.
func (s *Store) LastEntry(ctx context.Context, conversationID string) (*contract.ChatEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok || len(conv.Entries) == 0 {
		return nil, nil
	}
	return conv.Entries[len(conv.Entries)-1], nil
}

// MarkRegenerated flags an entry as superseded by a regenerate() call.
func (s *Store) MarkRegenerated(ctx context.Context, conversationID string, entry *contract.ChatEntry) error {
	entry.Regenerated = true
	return nil
}

// ReadRawResult is the lazy "body on demand" load (spec.md §4.9 second
// bullet): it re-decodes an entry's persisted raw_result bytes rather than
// handing back the in-memory pointer directly, so a corrupted body is
// caught here, at read time, exactly where a real on-disk store would
// catch it. A malformed body elides that one entry and logs an error
// carrying the conversation id and a truncated preview of the bad bytes,
// per spec.md §4.9 third bullet, rather than failing the whole load.
func (s *Store) ReadRawResult(ctx context.Context, conversationID string, index int) (*contract.AgentRunPayload, error) {
	s.mu.RLock()
	rec, ok := s.records[conversationID][index]
	s.mu.RUnlock()
	if !ok || rec.bodyBytes == nil {
		return nil, nil
	}

	var payload contract.AgentRunPayload
	if err := json.Unmarshal(rec.bodyBytes, &payload); err != nil {
		s.mu.Lock()
		rec.corrupt = true
		s.mu.Unlock()
		if s.logger != nil {
			s.logger.Error(ctx, "chat entry raw_result is corrupt",
				"conversation_id", conversationID,
				"entry_index", index,
				"preview", truncatePreview(rec.bodyBytes, 120),
			)
		}
		return nil, nil
	}
	return &payload, nil
}

// LoadConversation rebuilds a ConversationTimeline-ready conversation,
// eliding any entry whose persisted body is corrupt (spec.md §4.9 third
// bullet: "return the remaining entries").
func (s *Store) LoadConversation(ctx context.Context, conversationID string) (*contract.ChatConversation, error) {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	out := &contract.ChatConversation{ConversationID: conv.ConversationID, CreatedAt: conv.CreatedAt, UpdatedAt: conv.UpdatedAt}
	for idx, entry := range conv.Entries {
		s.mu.RLock()
		rec := s.records[conversationID][idx]
		s.mu.RUnlock()
		if rec != nil && !rec.corrupt && rec.bodyBytes != nil {
			// decode the body now so a corrupt one is flagged and logged
			// even if nothing has read it yet.
			_, _ = s.ReadRawResult(ctx, conversationID, idx)
		}
		if rec != nil && rec.corrupt {
			continue
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// updateTokenCache refreshes the per-model token count caches keyed by
// digest (spec.md §4.9 fourth bullet). A model's count is recomputed only
// when DigestText/DigestContextMessages disagrees with the cached digest.
// This reference store has no real tokenizer backend, so the count it
// stores is the estimateTokens chars-per-token estimate.
func updateTokenCache(entry *contract.ChatEntry) {
	const model = "default"

	promptDigest := contract.DigestText(entry.Prompt)
	if entry.TokenCache.Prompt == nil {
		entry.TokenCache.Prompt = make(map[string]contract.ModelTokenCount)
	}
	if cached, ok := entry.TokenCache.Prompt[model]; !ok || cached.Digest != promptDigest {
		entry.TokenCache.Prompt[model] = contract.ModelTokenCount{Digest: promptDigest, Count: estimateTokens(entry.Prompt)}
	}

	responseDigest := contract.DigestText(entry.Response)
	if entry.TokenCache.Response == nil {
		entry.TokenCache.Response = make(map[string]contract.ModelTokenCount)
	}
	if cached, ok := entry.TokenCache.Response[model]; !ok || cached.Digest != responseDigest {
		entry.TokenCache.Response[model] = contract.ModelTokenCount{Digest: responseDigest, Count: estimateTokens(entry.Response)}
	}

	if len(entry.ContextMessages) > 0 {
		contextDigest := contract.DigestContextMessages(entry.ContextMessages)
		if entry.TokenCache.Context == nil {
			entry.TokenCache.Context = make(map[string]contract.ModelTokenCount)
		}
		if cached, ok := entry.TokenCache.Context[model]; !ok || cached.Digest != contextDigest {
			count := 0
			for _, m := range entry.ContextMessages {
				count += estimateTokens(m.Content)
			}
			entry.TokenCache.Context[model] = contract.ModelTokenCount{Digest: contextDigest, Count: count}
		}
	}

	entry.TokenInfo.PromptTokens = entry.TokenCache.Prompt[model].Count
	entry.TokenInfo.ResponseTokens = entry.TokenCache.Response[model].Count
	if cached, ok := entry.TokenCache.Context[model]; ok {
		entry.TokenInfo.ContextTokens = cached.Count
	}
}

func estimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// canonicalJSON re-encodes a payload through json.Marshal twice, asserting
// the second pass is byte-identical to the first — the round-trip
// invariant spec.md §4.9 requires (serialize → deserialize → serialize
// produces identical output after canonicalization). Go's json.Marshal is
// already deterministic for struct field order, so canonicalization here
// is exactly "marshal with no extra steps"; the round-trip is asserted
// rather than assumed.
func canonicalJSON(payload contract.AgentRunPayload) ([]byte, error) {
	first, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var reloaded contract.AgentRunPayload
	if err := json.Unmarshal(first, &reloaded); err != nil {
		return nil, fmt.Errorf("round-trip decode: %w", err)
	}
	second, err := json.Marshal(reloaded)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, fmt.Errorf("raw_result does not round-trip byte-identically")
	}
	return first, nil
}

func truncatePreview(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "…"
}
