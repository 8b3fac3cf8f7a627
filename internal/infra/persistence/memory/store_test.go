package memory

import (
	"testing"
	"time"

	"timechain/internal/diffengine"
	"timechain/pkg/domain"
)

func TestStoreCreateAddPatchToDate(t *testing.T) {
	s := NewStore[map[string]any](diffengine.New())
	initial := map[string]any{"name": "alice"}
	if err := s.CreateTimeline("t1", initial, domain.Forward); err != nil {
		t.Fatalf("CreateTimeline: %v", err)
	}
	moment := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Add("t1", map[string]any{"name": "bob"}, moment, domain.NoFuturePolicy); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rec, err := s.PatchToDate("t1", moment)
	if err != nil {
		t.Fatalf("PatchToDate: %v", err)
	}
	if rec.Entity["name"] != "bob" {
		t.Fatalf("Entity = %v, want bob", rec.Entity)
	}

	if err := s.CreateTimeline("t1", initial, domain.Forward); err == nil {
		t.Fatalf("CreateTimeline duplicate id should fail")
	}
}

func TestStoreSnapshotRestoreRoundTrips(t *testing.T) {
	s := NewStore[map[string]any](diffengine.New())
	initial := map[string]any{"name": "alice"}
	if err := s.CreateTimeline("t1", initial, domain.Forward); err != nil {
		t.Fatalf("CreateTimeline: %v", err)
	}
	moment := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Add("t1", map[string]any{"name": "bob"}, moment, domain.NoFuturePolicy); err != nil {
		t.Fatalf("Add: %v", err)
	}

	snapshot := s.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("len(snapshot) = %d, want 1", len(snapshot))
	}

	restored := NewStore[map[string]any](diffengine.New())
	if err := restored.Restore(snapshot); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rec, err := restored.PatchToDate("t1", moment)
	if err != nil {
		t.Fatalf("PatchToDate after restore: %v", err)
	}
	if rec.Entity["name"] != "bob" {
		t.Fatalf("Entity after restore = %v, want bob", rec.Entity)
	}
}

func TestStoreContainsUnknownTimeline(t *testing.T) {
	s := NewStore[map[string]any](diffengine.New())
	if _, err := s.Contains("missing", time.Now(), domain.DefaultGrace); err == nil {
		t.Fatalf("Contains on a missing timeline should fail")
	}
}
