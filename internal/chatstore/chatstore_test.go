package chatstore

import (
	"context"
	"testing"

	"github.com/Belerafon/CookaReq-sub002/internal/obslog"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func testLogger() *obslog.Logger {
	return obslog.New(obslog.Config{})
}

func TestEnsureActiveConversationIsIdempotent(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	id1, err := s.EnsureActiveConversation(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.EnsureActiveConversation(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected the same conversation id, got %q and %q", id1, id2)
	}
}

func TestAppendAndFinalizeRoundTrips(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	convID, _ := s.EnsureActiveConversation(ctx)

	entry := &contract.ChatEntry{Prompt: "hello"}
	if err := s.AppendPendingEntry(ctx, convID, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last, err := s.LastEntry(ctx, convID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != entry {
		t.Fatal("expected LastEntry to return the just-appended entry")
	}

	payload := contract.AgentRunPayload{
		Status:           contract.RunSucceeded,
		ResultText:       "hi back",
		TimelineChecksum: "chk1",
	}
	if err := s.FinalizePrompt(ctx, convID, entry, payload); err != nil {
		t.Fatalf("unexpected error finalizing: %v", err)
	}

	if entry.DisplayResponse != "hi back" {
		t.Fatalf("expected display response set, got %q", entry.DisplayResponse)
	}
	if entry.ResponseAt == nil {
		t.Fatal("expected response_at to be set")
	}
	if entry.TimelineStatus != contract.TimelineValid {
		t.Fatalf("expected timeline_status valid, got %q", entry.TimelineStatus)
	}
	if entry.TokenCache.Prompt["default"].Count == 0 {
		t.Fatal("expected a nonzero prompt token count cached")
	}

	reloaded, err := s.ReadRawResult(ctx, convID, 0)
	if err != nil {
		t.Fatalf("unexpected error reading raw result: %v", err)
	}
	if reloaded == nil || reloaded.ResultText != "hi back" {
		t.Fatalf("expected the raw result to round-trip, got %+v", reloaded)
	}
}

func TestConversationMessagesSkipsPendingEntries(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	convID, _ := s.EnsureActiveConversation(ctx)

	finished := &contract.ChatEntry{Prompt: "done one"}
	s.AppendPendingEntry(ctx, convID, finished)
	s.FinalizePrompt(ctx, convID, finished, contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "answer"})

	pending := &contract.ChatEntry{Prompt: "still going"}
	s.AppendPendingEntry(ctx, convID, pending)

	messages, err := s.ConversationMessages(ctx, convID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected only the finished entry's two messages, got %d", len(messages))
	}
	if messages[0].Content != "done one" || messages[1].Content != "answer" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestReadRawResultElidesCorruptBody(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	convID, _ := s.EnsureActiveConversation(ctx)

	entry := &contract.ChatEntry{Prompt: "x"}
	s.AppendPendingEntry(ctx, convID, entry)
	s.FinalizePrompt(ctx, convID, entry, contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "ok"})

	// simulate on-disk corruption of the persisted body.
	s.mu.Lock()
	s.records[convID][0].bodyBytes = []byte("{not valid json")
	s.mu.Unlock()

	payload, err := s.ReadRawResult(ctx, convID, 0)
	if err != nil {
		t.Fatalf("expected corruption to be handled without an error, got %v", err)
	}
	if payload != nil {
		t.Fatalf("expected a nil payload for a corrupt body, got %+v", payload)
	}

	conv, err := s.LoadConversation(ctx, convID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.Entries) != 0 {
		t.Fatalf("expected the corrupt entry to be elided from the loaded conversation, got %d entries", len(conv.Entries))
	}
}

func TestLoadConversationKeepsUncorruptedEntries(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	convID, _ := s.EnsureActiveConversation(ctx)

	e1 := &contract.ChatEntry{Prompt: "first"}
	s.AppendPendingEntry(ctx, convID, e1)
	s.FinalizePrompt(ctx, convID, e1, contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "a1"})

	e2 := &contract.ChatEntry{Prompt: "second"}
	s.AppendPendingEntry(ctx, convID, e2)
	s.FinalizePrompt(ctx, convID, e2, contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "a2"})

	s.mu.Lock()
	s.records[convID][0].bodyBytes = []byte("garbage")
	s.mu.Unlock()
	s.ReadRawResult(ctx, convID, 0)

	conv, err := s.LoadConversation(ctx, convID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conv.Entries) != 1 || conv.Entries[0].Prompt != "second" {
		t.Fatalf("expected only the uncorrupted second entry to remain, got %+v", conv.Entries)
	}
}

func TestTokenCacheInvalidatesOnDigestMismatch(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()
	convID, _ := s.EnsureActiveConversation(ctx)

	entry := &contract.ChatEntry{Prompt: "short"}
	s.AppendPendingEntry(ctx, convID, entry)
	s.FinalizePrompt(ctx, convID, entry, contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "ok"})

	firstCount := entry.TokenCache.Prompt["default"].Count
	firstDigest := entry.TokenCache.Prompt["default"].Digest

	entry.Prompt = "a considerably longer prompt than before"
	updateTokenCache(entry)

	if entry.TokenCache.Prompt["default"].Digest == firstDigest {
		t.Fatal("expected the digest to change once the prompt text changed")
	}
	if entry.TokenCache.Prompt["default"].Count == firstCount {
		t.Fatal("expected the cached count to be recomputed for the new prompt")
	}
}
