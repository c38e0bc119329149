package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Belerafon/CookaReq-sub002/internal/cancel"
	"github.com/Belerafon/CookaReq-sub002/internal/engine"
	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

// memStore is a minimal in-memory ConversationStore stand-in, just enough
// to exercise the controller's submit/stop/regenerate bookkeeping without
// pulling in the chatstore package.
type memStore struct {
	mu            sync.Mutex
	conversationID string
	history       []contract.ConversationMessage
	entries       []*contract.ChatEntry
}

func (s *memStore) EnsureActiveConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" {
		s.conversationID = "conv_1"
	}
	return s.conversationID, nil
}

func (s *memStore) ConversationMessages(ctx context.Context, conversationID string) ([]contract.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contract.ConversationMessage, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *memStore) AppendPendingEntry(ctx context.Context, conversationID string, entry *contract.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) FinalizePrompt(ctx context.Context, conversationID string, entry *contract.ChatEntry, payload contract.AgentRunPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.RawResult = &payload
	entry.DisplayResponse = payload.ResultText
	now := time.Now()
	entry.ResponseAt = &now
	return nil
}

func (s *memStore) LastEntry(ctx context.Context, conversationID string) (*contract.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *memStore) MarkRegenerated(ctx context.Context, conversationID string, entry *contract.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Regenerated = true
	return nil
}

// fakeRunner implements EngineRunner, optionally blocking until released so
// tests can observe an active run before it finishes.
type fakeRunner struct {
	release chan struct{}
	result  contract.AgentRunPayload
}

func (f *fakeRunner) Run(ctx context.Context, src *cancel.Source, in engine.Input, obs engine.Observer) contract.AgentRunPayload {
	if f.release != nil {
		select {
		case <-f.release:
		case <-src.Done():
			return contract.AgentRunPayload{Status: contract.RunCancelled}
		}
	}
	if obs.OnToolSnapshots != nil {
		obs.OnToolSnapshots([]contract.ToolResultSnapshot{{CallID: "call_1", Status: contract.ToolSucceeded}})
	}
	if obs.OnEvent != nil {
		obs.OnEvent(contract.AgentEvent{Kind: contract.EventAgentFinished, Sequence: 0})
	}
	return f.result
}

func newTestController(store *memStore, runner EngineRunner) *Controller {
	return New(Config{
		Store: store,
		Supplier: func() EngineRunner {
			return runner
		},
	})
}

func TestSubmitPromptRejectsEmptyPrompt(t *testing.T) {
	c := newTestController(&memStore{}, &fakeRunner{result: contract.AgentRunPayload{Status: contract.RunSucceeded}})
	_, err := c.SubmitPrompt(context.Background(), "   ", nil)
	if err == nil {
		t.Fatal("expected an error for an empty prompt")
	}
	cerr, ok := err.(*contract.Error)
	if !ok || cerr.Code != contract.ErrValidation {
		t.Fatalf("expected a VALIDATION_ERROR, got %+v", err)
	}
}

func TestSubmitPromptRunsToCompletion(t *testing.T) {
	store := &memStore{}
	runner := &fakeRunner{result: contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "hi back"}}
	c := newTestController(store, runner)

	handle, err := c.SubmitPrompt(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload := handle.Wait()
	if payload.Status != contract.RunSucceeded || payload.ResultText != "hi back" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	snaps := handle.ToolSnapshots()
	if len(snaps) != 1 || snaps[0].CallID != "call_1" {
		t.Fatalf("expected the merged tool snapshot to be visible on the handle, got %+v", snaps)
	}

	if len(store.entries) != 1 {
		t.Fatalf("expected one pending entry appended, got %d", len(store.entries))
	}

	deadline := time.After(time.Second)
	for !c.IsIdle() {
		select {
		case <-deadline:
			t.Fatal("controller never returned to idle after the run finished")
		default:
		}
	}

	if store.entries[0].DisplayResponse != "hi back" {
		t.Fatalf("expected FinalizePrompt to update the entry, got %q", store.entries[0].DisplayResponse)
	}
}

func TestSubmitPromptForwardsEventsToConfiguredSink(t *testing.T) {
	store := &memStore{}
	runner := &fakeRunner{result: contract.AgentRunPayload{Status: contract.RunSucceeded}}

	var mu sync.Mutex
	var gotConversationID string
	var gotEvent contract.AgentEvent
	c := New(Config{
		Store:    store,
		Supplier: func() EngineRunner { return runner },
		Events: func(conversationID string, event contract.AgentEvent) {
			mu.Lock()
			defer mu.Unlock()
			gotConversationID = conversationID
			gotEvent = event
		},
	})

	handle, err := c.SubmitPrompt(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle.Wait()

	deadline := time.After(time.Second)
	for c.IsIdle() == false {
		select {
		case <-deadline:
			t.Fatal("controller never returned to idle after the run finished")
		default:
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if gotConversationID != handle.ConversationID {
		t.Fatalf("expected events tagged with conversation id %q, got %q", handle.ConversationID, gotConversationID)
	}
	if gotEvent.Kind != contract.EventAgentFinished {
		t.Fatalf("expected the fakeRunner's agent_finished event to reach the sink, got %+v", gotEvent)
	}
}

func TestSubmitPromptRejectsConcurrentRunsOnSameController(t *testing.T) {
	store := &memStore{}
	release := make(chan struct{})
	runner := &fakeRunner{release: release, result: contract.AgentRunPayload{Status: contract.RunSucceeded}}
	c := newTestController(store, runner)

	_, err := c.SubmitPrompt(context.Background(), "first", nil)
	if err != nil {
		t.Fatalf("unexpected error on first submit: %v", err)
	}

	_, err = c.SubmitPrompt(context.Background(), "second", nil)
	if err == nil {
		t.Fatal("expected the second concurrent submit to be rejected")
	}
	cerr, ok := err.(*contract.Error)
	if !ok || cerr.Code != contract.ErrConflict {
		t.Fatalf("expected a CONFLICT error, got %+v", err)
	}

	close(release)
}

func TestStopCancelsActiveHandle(t *testing.T) {
	store := &memStore{}
	release := make(chan struct{})
	runner := &fakeRunner{release: release, result: contract.AgentRunPayload{Status: contract.RunSucceeded}}
	c := newTestController(store, runner)

	handle, err := c.SubmitPrompt(context.Background(), "slow one", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stopped := c.Stop()
	if stopped != handle {
		t.Fatalf("expected Stop to return the active handle")
	}

	payload := handle.Wait()
	if payload.Status != contract.RunCancelled {
		t.Fatalf("expected the cancelled handle to resolve as cancelled, got %+v", payload)
	}
}

func TestRegenerateRequiresIdleAndLastEntry(t *testing.T) {
	store := &memStore{}
	runner := &fakeRunner{result: contract.AgentRunPayload{Status: contract.RunSucceeded, ResultText: "first answer"}}
	c := newTestController(store, runner)

	if _, err := c.Regenerate(context.Background(), "conv_1"); err == nil {
		t.Fatal("expected regenerate on an empty conversation to fail")
	}

	handle, err := c.SubmitPrompt(context.Background(), "original prompt", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle.Wait()

	deadline := time.After(time.Second)
	for !c.IsIdle() {
		select {
		case <-deadline:
			t.Fatal("controller never returned to idle")
		default:
		}
	}

	regenHandle, err := c.Regenerate(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("unexpected error on regenerate: %v", err)
	}
	regenHandle.Wait()

	if !store.entries[0].Regenerated {
		t.Fatal("expected the original entry to be marked regenerated")
	}
	if regenHandle.Prompt != "original prompt" {
		t.Fatalf("expected regenerate to resubmit the original prompt, got %q", regenHandle.Prompt)
	}
}

func TestMergeToolSnapshotsIsAdditiveByCallID(t *testing.T) {
	h := newRunHandle("conv_1", "p", time.Now())
	h.MergeToolSnapshots([]contract.ToolResultSnapshot{{CallID: "call_1", Status: contract.ToolRunning}})
	h.MergeToolSnapshots([]contract.ToolResultSnapshot{{CallID: "call_1", Status: contract.ToolSucceeded}})
	h.MergeToolSnapshots([]contract.ToolResultSnapshot{{CallID: "", Status: contract.ToolSucceeded}})

	snaps := h.ToolSnapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected the repeated call_1 update to replace in place and the orphan to append, got %d entries", len(snaps))
	}
	if snaps[0].CallID != "call_1" || snaps[0].Status != contract.ToolSucceeded {
		t.Fatalf("expected call_1 entry updated in place, got %+v", snaps[0])
	}
	if snaps[1].CallID != "" {
		t.Fatalf("expected the orphan entry appended, got %+v", snaps[1])
	}
}

func TestMergeStatusUpdateDeduplicatesByTuple(t *testing.T) {
	h := newRunHandle("conv_1", "p", time.Now())
	at := time.Now()
	u := StatusUpdate{Raw: "thinking", At: at, Status: "running"}
	h.MergeStatusUpdate(u)
	h.MergeStatusUpdate(u)
	h.MergeStatusUpdate(StatusUpdate{Raw: "thinking", At: at, Status: "done"})

	updates := h.StatusUpdates()
	if len(updates) != 2 {
		t.Fatalf("expected the exact duplicate to be dropped and the differing status kept, got %d", len(updates))
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Fatalf("expected 1 token for a 4-char string, got %d", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Fatalf("expected ceil(5/4)=2 tokens, got %d", got)
	}
}
