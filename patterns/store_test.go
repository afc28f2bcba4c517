package patterns

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/adscan/dbopen"
)

func testPatternStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return &Store{DB: db}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	s := testPatternStore(t)
	ctx := context.Background()

	r := New(Config{})
	r.AddPattern("banner", ".ad", 2)
	r.RecordSuccess(".ad")
	r.RecordFailure(".ad")

	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(Config{})
	if err := s.Load(ctx, restored); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := r.Entries("banner")["banner"][0]
	got := restored.Entries("banner")["banner"][0]
	if got.Pattern != want.Pattern || got.Priority != want.Priority {
		t.Errorf("entry: got %+v, want %+v", got, want)
	}
	if got.SuccessRate != want.SuccessRate || got.FailureCount != want.FailureCount {
		t.Errorf("health: got sr=%f fc=%d, want sr=%f fc=%d",
			got.SuccessRate, got.FailureCount, want.SuccessRate, want.FailureCount)
	}
	if got.LastSuccess.UnixMilli() != want.LastSuccess.UnixMilli() {
		t.Errorf("LastSuccess: got %v, want %v", got.LastSuccess, want.LastSuccess)
	}
}

func TestStoreSaveIsUpsert(t *testing.T) {
	s := testPatternStore(t)
	ctx := context.Background()

	r := New(Config{})
	r.AddPattern("banner", ".ad", 2)
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	r.RecordFailure(".ad")
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var count int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM pattern_health`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows: got %d, want 1", count)
	}
}
