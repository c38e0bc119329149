package wsfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func TestBroadcastDeliversToConnectedClient(t *testing.T) {
	feed := New(nil)
	server := httptest.NewServer(feed)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for feed.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	feed.Broadcast(context.Background(), "conv_1", contract.AgentEvent{
		Kind:     contract.EventLLMStep,
		Sequence: 1,
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"conversation_id":"conv_1"`) {
		t.Fatalf("unexpected frame: %s", data)
	}
	if !strings.Contains(string(data), `"llm_step"`) {
		t.Fatalf("expected the event kind in the frame: %s", data)
	}
}

func TestClientCountDropsOnDisconnect(t *testing.T) {
	feed := New(nil)
	server := httptest.NewServer(feed)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for feed.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for feed.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never deregistered after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBroadcastWithNoClientsDoesNotBlock(t *testing.T) {
	feed := New(nil)
	done := make(chan struct{})
	go func() {
		feed.Broadcast(context.Background(), "conv_1", contract.AgentEvent{Kind: contract.EventAgentFinished})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast with no clients blocked")
	}
}
