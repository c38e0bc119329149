package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Belerafon/CookaReq-sub002/internal/registry"
)

func TestCompleteNonStreamingRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer token forwarded, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o"})
	resp, err := c.Complete(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == nil || *resp.Content != "hi there" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestCompleteStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "gpt-4o", Stream: true})
	var streamed string
	resp, err := c.Complete(context.Background(), nil, nil, func(text string) { streamed += text })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content == nil || *resp.Content != "ok" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if streamed != "ok" {
		t.Fatalf("expected onDelta to receive streamed text, got %q", streamed)
	}
}

func TestCompleteIncludesRegisteredToolsInRequest(t *testing.T) {
	var sawTool bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"list_requirements"`) {
			sawTool = true
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ack"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "gpt-4o"})
	tools := []registry.Describe{{Name: "list_requirements", Description: "list", ArgsSchema: []byte(`{"type":"object"}`)}}
	_, err := c.Complete(context.Background(), nil, tools, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawTool {
		t.Fatal("expected the registered tool to be sent in the request body")
	}
}
