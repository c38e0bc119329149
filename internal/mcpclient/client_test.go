package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func newTestMCPServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestEnsureReadySucceedsAndCaches(t *testing.T) {
	calls := 0
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total":0,"page":1,"per_page":20,"items":[]}`))
	})

	c := New(Config{BaseURL: srv.URL})
	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("expected cached ready, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one probe call while cache is fresh, got %d", calls)
	}
}

func TestEnsureReadySurfacesServerError(t *testing.T) {
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(contract.Envelope{Error: contract.NewError(contract.ErrInternal, "boom", nil)})
	})

	c := New(Config{BaseURL: srv.URL})
	err := c.EnsureReady(context.Background())
	if err == nil || err.Code != contract.ErrInternal {
		t.Fatalf("expected INTERNAL error, got %#v", err)
	}
}

func TestCallToolRoundTrip(t *testing.T) {
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "get_requirement" {
			t.Errorf("unexpected tool name %q", req.Name)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rid":"SYS-1"}`))
	})

	c := New(Config{BaseURL: srv.URL})
	res := c.CallTool(context.Background(), "get_requirement", map[string]any{"rid": "SYS-1"})
	if !res.OK || res.Error != nil {
		t.Fatalf("expected success, got %#v", res)
	}
	m, ok := res.Result.(map[string]any)
	if !ok || m["rid"] != "SYS-1" {
		t.Fatalf("unexpected result payload: %#v", res.Result)
	}
}

func TestCallToolSendsBearerToken(t *testing.T) {
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(contract.Envelope{Error: contract.NewError(contract.ErrUnauthorized, "missing token", nil)})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	c := New(Config{BaseURL: srv.URL, Token: "secret"})
	res := c.CallTool(context.Background(), "list_requirements", map[string]any{})
	if !res.OK {
		t.Fatalf("expected success with correct bearer token, got %#v", res)
	}
}

func TestCallToolDestructiveDeclinedNeverHitsServer(t *testing.T) {
	called := false
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	c := New(Config{BaseURL: srv.URL, Confirm: func(string) bool { return false }})
	res := c.CallTool(context.Background(), "delete_requirement", map[string]any{"rid": "SYS-1"})
	if res.OK {
		t.Fatalf("expected declined confirmation to fail the call")
	}
	if res.Error == nil || res.Error.Code != contract.ErrCancelled {
		t.Fatalf("expected CANCELLED error, got %#v", res.Error)
	}
	if called {
		t.Fatal("expected no HTTP request to be made when confirmation is declined")
	}
}

func TestCallToolDestructiveConfirmedReachesServer(t *testing.T) {
	called := false
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deleted":true}`))
	})

	c := New(Config{BaseURL: srv.URL, Confirm: func(string) bool { return true }})
	res := c.CallTool(context.Background(), "delete_label", map[string]any{"key": "obsolete"})
	if !res.OK || res.Error != nil {
		t.Fatalf("expected success, got %#v", res)
	}
	if !called {
		t.Fatal("expected confirmed destructive call to reach the server")
	}
}

func TestCallToolNonDestructiveSkipsConfirm(t *testing.T) {
	confirmCalled := false
	srv := newTestMCPServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})

	c := New(Config{BaseURL: srv.URL, Confirm: func(string) bool {
		confirmCalled = true
		return true
	}})
	res := c.CallTool(context.Background(), "list_requirements", map[string]any{})
	if !res.OK {
		t.Fatalf("expected success, got %#v", res)
	}
	if confirmCalled {
		t.Fatal("expected confirm gate to be skipped for non-destructive tools")
	}
}
