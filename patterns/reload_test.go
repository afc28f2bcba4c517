package patterns

import (
	"context"
	"testing"
	"time"
)

func insertHealthRow(t *testing.T, s *Store, pattern string, rate float64, updatedAt int64) {
	t.Helper()
	_, err := s.DB.Exec(`
		INSERT INTO pattern_health
			(category, pattern, priority, success_rate, failure_count, last_success, updated_at)
		VALUES ('banner', ?, 2, ?, 0, 0, ?)
		ON CONFLICT(category, pattern) DO UPDATE SET
			success_rate=excluded.success_rate,
			updated_at=excluded.updated_at`,
		pattern, rate, updatedAt)
	if err != nil {
		t.Fatalf("insert health row: %v", err)
	}
}

func waitForReloads(t *testing.T, r *Reloader, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Stats().Reloads >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reloads, have %d", want, r.Stats().Reloads)
}

func TestReloaderAppliesExternalHealthWrites(t *testing.T) {
	s := testPatternStore(t)
	reg := New(Config{})

	rl := NewReloader(s, reg, ReloadOptions{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rl.Run(ctx)

	// Let the initial version seed before the first write.
	time.Sleep(30 * time.Millisecond)

	insertHealthRow(t, s, ".promo-banner", 0.9, 1000)
	waitForReloads(t, rl, 1)

	entries := reg.Entries("banner")["banner"]
	if len(entries) != 1 || entries[0].Pattern != ".promo-banner" {
		t.Fatalf("entries after reload: %+v", entries)
	}
	if entries[0].SuccessRate != 0.9 {
		t.Errorf("SuccessRate = %f, want 0.9", entries[0].SuccessRate)
	}

	// A later write with a newer token reloads again.
	insertHealthRow(t, s, ".promo-banner", 0.4, 2000)
	waitForReloads(t, rl, 2)

	entries = reg.Entries("banner")["banner"]
	if entries[0].SuccessRate != 0.4 {
		t.Errorf("SuccessRate after second reload = %f, want 0.4", entries[0].SuccessRate)
	}
}

func TestReloaderDebounceCoalescesWrites(t *testing.T) {
	s := testPatternStore(t)
	reg := New(Config{})

	rl := NewReloader(s, reg, ReloadOptions{
		Interval: 10 * time.Millisecond,
		Debounce: 80 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rl.Run(ctx)

	time.Sleep(30 * time.Millisecond)

	for i := range 5 {
		insertHealthRow(t, s, ".promo-banner", 0.5, int64(1000+i))
		time.Sleep(10 * time.Millisecond)
	}

	if got := rl.Stats().Reloads; got != 0 {
		t.Fatalf("expected 0 reloads during debounce window, got %d", got)
	}

	waitForReloads(t, rl, 1)
	time.Sleep(150 * time.Millisecond)
	if got := rl.Stats().Reloads; got != 1 {
		t.Fatalf("expected exactly 1 coalesced reload, got %d", got)
	}
}

func TestReloaderQuietTableNeverFires(t *testing.T) {
	s := testPatternStore(t)
	reg := New(Config{})

	rl := NewReloader(s, reg, ReloadOptions{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rl.Run(ctx)

	time.Sleep(100 * time.Millisecond)

	st := rl.Stats()
	if st.Checks == 0 {
		t.Fatal("expected polling to run")
	}
	if st.Reloads != 0 {
		t.Fatalf("expected 0 reloads for a quiet table, got %d", st.Reloads)
	}
}
