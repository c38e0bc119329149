package userdocs

import (
	"testing"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func TestCreateReadDeleteRoundTrip(t *testing.T) {
	svc := NewMemoryService()
	if _, err := svc.CreateFile("notes/readme.txt", "hello\nworld\n", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.ReadFile("notes/readme.txt", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "hello\nworld\n" {
		t.Fatalf("expected full content back, got %q", result.Content)
	}

	if err := svc.DeleteFile("notes/readme.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ReadFile("notes/readme.txt", 1, 0); err == nil {
		t.Fatal("expected not-found error after delete")
	}
}

func TestCreateFileRejectsDuplicateWithoutExistOK(t *testing.T) {
	svc := NewMemoryService()
	if _, err := svc.CreateFile("a.txt", "x", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.CreateFile("a.txt", "y", false)
	ce, ok := err.(*contract.Error)
	if !ok || ce.Code != contract.ErrConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestCreateFileAllowsOverwriteWithExistOK(t *testing.T) {
	svc := NewMemoryService()
	if _, err := svc.CreateFile("a.txt", "x", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.CreateFile("a.txt", "y", true); err != nil {
		t.Fatalf("expected overwrite to succeed, got %v", err)
	}
}

func TestPathEscapeIsRejected(t *testing.T) {
	svc := NewMemoryService()
	_, err := svc.CreateFile("../outside.txt", "x", false)
	ce, ok := err.(*contract.Error)
	if !ok || ce.Code != contract.ErrUnauthorized {
		t.Fatalf("expected UNAUTHORIZED for path escape, got %v", err)
	}
}

func TestReadFileClampsToByteLimit(t *testing.T) {
	svc := NewMemoryService()
	svc.maxReadBytes = 10
	if _, err := svc.CreateFile("big.txt", "0123456789ABCDEF", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.ReadFile("big.txt", 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.ClampedToLimit {
		t.Fatal("expected read to be clamped to the configured limit")
	}
	if len(result.Content) != 10 {
		t.Fatalf("expected exactly 10 bytes served, got %d", len(result.Content))
	}
	if result.BytesRemaining != 6 {
		t.Fatalf("expected 6 bytes remaining, got %d", result.BytesRemaining)
	}
}

func TestListTreeReturnsSortedPaths(t *testing.T) {
	svc := NewMemoryService()
	svc.CreateFile("b.txt", "", false)
	svc.CreateFile("a.txt", "", false)

	nodes, err := svc.ListTree()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 || nodes[0].Path != "a.txt" || nodes[1].Path != "b.txt" {
		t.Fatalf("expected sorted [a.txt b.txt], got %#v", nodes)
	}
}
