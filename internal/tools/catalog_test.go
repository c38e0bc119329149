package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Belerafon/CookaReq-sub002/internal/registry"
	"github.com/Belerafon/CookaReq-sub002/internal/requirements"
	"github.com/Belerafon/CookaReq-sub002/internal/userdocs"
)

func newTestRegistry(t *testing.T) (*registry.Registry, requirements.Service, userdocs.Service) {
	t.Helper()
	reqs := requirements.NewMemoryService()
	docs := userdocs.NewMemoryService()
	reg := registry.New()
	RegisterAll(reg, Deps{
		RequirementsFor: func() requirements.Service { return reqs },
		UserDocs:        func() userdocs.Service { return docs },
	})
	return reg, reqs, docs
}

func TestCatalogRegistersAllEighteenTools(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	names := reg.Names()
	if len(names) != 18 {
		t.Fatalf("expected 18 tools, got %d: %v", len(names), names)
	}
}

func TestDestructiveToolsAreFlagged(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	for _, name := range []string{"delete_requirement", "delete_label", "delete_user_document"} {
		spec, ok := reg.Get(name)
		if !ok {
			t.Fatalf("expected tool %s to be registered", name)
		}
		if !spec.Destructive {
			t.Fatalf("expected %s to be marked destructive", name)
		}
	}
	nonDestructive, ok := reg.Get("list_requirements")
	if !ok || nonDestructive.Destructive {
		t.Fatal("expected list_requirements to not be destructive")
	}
}

func TestCreateAndGetRequirementThroughRegistry(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "create_requirement", json.RawMessage(`{"prefix":"SYS","data":{"title":"boot"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := reg.Invoke(context.Background(), "get_requirement", json.RawMessage(`{"rid":"SYS-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, ok := result.(requirements.Requirement)
	if !ok || req.Title != "boot" {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestGetRequirementAcceptsArrayOfRIDs(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.Invoke(context.Background(), "create_requirement", json.RawMessage(`{"prefix":"SYS","data":{"title":"a"}}`))
	reg.Invoke(context.Background(), "create_requirement", json.RawMessage(`{"prefix":"SYS","data":{"title":"b"}}`))

	result, err := reg.Invoke(context.Background(), "get_requirement", json.RawMessage(`{"rid":["SYS-1","SYS-2"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs, ok := result.([]requirements.Requirement)
	if !ok || len(reqs) != 2 {
		t.Fatalf("expected 2 requirements back, got %#v", result)
	}
}

func TestUserDocumentToolsRoundTrip(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Invoke(context.Background(), "create_user_document", json.RawMessage(`{"path":"notes.txt","content":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := reg.Invoke(context.Background(), "read_user_document", json.RawMessage(`{"path":"notes.txt"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rr, ok := result.(userdocs.ReadResult)
	if !ok || rr.Content != "hi" {
		t.Fatalf("unexpected result: %#v", result)
	}

	_, err = reg.Invoke(context.Background(), "delete_user_document", json.RawMessage(`{"path":"notes.txt"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestToolsFailClosedWithoutConfiguredServices(t *testing.T) {
	reg := registry.New()
	RegisterAll(reg, Deps{})

	if _, err := reg.Invoke(context.Background(), "list_requirements", json.RawMessage(`{"prefix":"SYS"}`)); err == nil {
		t.Fatal("expected an error when the requirements service is not configured")
	}
	if _, err := reg.Invoke(context.Background(), "list_user_documents", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an error when the documents service is not configured")
	}
}
