package requirements

import (
	"testing"

	"github.com/Belerafon/CookaReq-sub002/pkg/contract"
)

func TestCreateAndGetRequirement(t *testing.T) {
	svc := NewMemoryService()
	req, err := svc.CreateRequirement("SYS", map[string]any{"title": "Boot sequence", "status": "draft"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RID != "SYS-1" {
		t.Fatalf("expected sequential rid SYS-1, got %s", req.RID)
	}

	got, err := svc.GetRequirement("SYS-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "Boot sequence" {
		t.Fatalf("expected title to round-trip, got %q", got.Title)
	}
}

func TestGetRequirementNotFound(t *testing.T) {
	svc := NewMemoryService()
	_, err := svc.GetRequirement("SYS-404")
	ce, ok := err.(*contract.Error)
	if !ok || ce.Code != contract.ErrNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListRequirementsFiltersAndPaginates(t *testing.T) {
	svc := NewMemoryService()
	for i := 0; i < 5; i++ {
		status := "draft"
		if i%2 == 0 {
			status = "approved"
		}
		if _, err := svc.CreateRequirement("SYS", map[string]any{"title": "r", "status": status}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	page, err := svc.ListRequirements("SYS", 1, 2, "approved", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected 3 approved requirements, got %d", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected page size 2, got %d", len(page.Items))
	}
}

func TestDeleteRequirementRemovesFromPrefixIndex(t *testing.T) {
	svc := NewMemoryService()
	req, _ := svc.CreateRequirement("SYS", map[string]any{"title": "x"})
	if err := svc.DeleteRequirement(req.RID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.GetRequirement(req.RID); err == nil {
		t.Fatal("expected requirement to be gone after delete")
	}
	page, err := svc.ListRequirements("SYS", 1, 50, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected empty prefix after delete, got %d", page.Total)
	}
}

func TestCreateLabelRejectsDuplicate(t *testing.T) {
	svc := NewMemoryService()
	if _, err := svc.CreateLabel("SYS", "urgent", "Urgent", "red"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.CreateLabel("SYS", "urgent", "Urgent", "red")
	ce, ok := err.(*contract.Error)
	if !ok || ce.Code != contract.ErrConflict {
		t.Fatalf("expected CONFLICT on duplicate label, got %v", err)
	}
}

func TestDeleteLabelRemovesFromRequirementsWhenRequested(t *testing.T) {
	svc := NewMemoryService()
	req, _ := svc.CreateRequirement("SYS", map[string]any{"title": "x"})
	if _, err := svc.CreateLabel("SYS", "urgent", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.SetRequirementLabels(req.RID, []string{"urgent", "core"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.DeleteLabel("SYS", "urgent", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.GetRequirement(req.RID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, l := range got.Labels {
		if l == "urgent" {
			t.Fatal("expected urgent label to be stripped from requirement")
		}
	}
}

func TestCacheReusesServiceForSameBasePath(t *testing.T) {
	builds := 0
	cache := NewCache(func(string) Service {
		builds++
		return NewMemoryService()
	})

	a := cache.Get("/data/project")
	b := cache.Get("/data/project/")
	if a != b {
		t.Fatal("expected equivalent base paths to share one service instance")
	}
	if builds != 1 {
		t.Fatalf("expected factory to run once, ran %d times", builds)
	}

	cache.Clear()
	cache.Get("/data/project")
	if builds != 2 {
		t.Fatalf("expected factory to rebuild after Clear, ran %d times", builds)
	}
}
