package patterns

import (
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/adscan/dom"
)

// stubNode matches a fixed set of patterns and raises on configured ones.
type stubNode struct {
	matches map[string]bool
	raises  map[string]bool
}

func (n *stubNode) ID() string         { return "stub" }
func (n *stubNode) Tag() string        { return "div" }
func (n *stubNode) Attr(string) string { return "" }
func (n *stubNode) Text() string       { return "" }
func (n *stubNode) Matches(p string) (bool, error) {
	if n.raises[p] {
		return false, errors.New("malformed pattern")
	}
	return n.matches[p], nil
}
func (n *stubNode) Find(string) ([]dom.Node, error) { return nil, nil }
func (n *stubNode) Links() []string                 { return nil }
func (n *stubNode) Images() []string                { return nil }
func (n *stubNode) MediaTime() (float64, bool)      { return 0, false }

func TestHealthDecayExcludesAfterMaxFailures(t *testing.T) {
	r := New(Config{})
	r.AddCategory("banner", []string{".ad"})
	r.setHealth("banner", ".ad", 1.0, 0, time.Time{})

	for i := 0; i < 6; i++ {
		r.RecordFailure(".ad")
	}

	entries := r.Entries("banner")["banner"]
	if entries[0].FailureCount != 6 {
		t.Fatalf("FailureCount: got %d, want 6", entries[0].FailureCount)
	}
	// 0.9^6 ≈ 0.531, still above the min success rate. Exclusion comes
	// from the failure threshold alone.
	if entries[0].SuccessRate < DefaultMinSuccessRate {
		t.Fatalf("SuccessRate: got %f, expected above %f", entries[0].SuccessRate, DefaultMinSuccessRate)
	}
	if got := r.ActivePatterns(""); len(got) != 0 {
		t.Errorf("ActivePatterns: got %v, want empty", got)
	}
}

func TestHealthRecovery(t *testing.T) {
	r := New(Config{})
	r.AddCategory("banner", []string{".ad"})
	r.setHealth("banner", ".ad", 0.6, 3, time.Time{})

	r.RecordSuccess(".ad")

	e := r.Entries("banner")["banner"][0]
	if e.FailureCount != 2 {
		t.Errorf("FailureCount: got %d, want 2", e.FailureCount)
	}
	if e.SuccessRate < 0.659 || e.SuccessRate > 0.661 {
		t.Errorf("SuccessRate: got %f, want 0.66", e.SuccessRate)
	}
	if e.LastSuccess.IsZero() {
		t.Error("LastSuccess: not refreshed")
	}
}

func TestRecordSuccessCapsAtOne(t *testing.T) {
	r := New(Config{})
	r.AddCategory("banner", []string{".ad"})
	r.setHealth("banner", ".ad", 0.99, 0, time.Time{})

	r.RecordSuccess(".ad")

	if sr := r.Entries("banner")["banner"][0].SuccessRate; sr != 1 {
		t.Errorf("SuccessRate: got %f, want 1 (capped)", sr)
	}
}

func TestAddPatternIdempotent(t *testing.T) {
	r := New(Config{})
	r.AddPattern("cat", "X", 0)
	r.RecordFailure("X") // mutate health so a duplicate insert would be visible
	r.AddPattern("cat", "X", 0)

	entries := r.Entries("cat")["cat"]
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].FailureCount != 1 {
		t.Errorf("FailureCount: got %d, want 1 (health preserved)", entries[0].FailureCount)
	}
}

func TestActivePatternsRanking(t *testing.T) {
	r := New(Config{})
	r.AddPattern("a", "low", 10) // score 0.05
	r.AddPattern("a", "high", 1) // score 0.5
	r.AddPattern("b", "mid", 2)  // score 0.25

	got := r.ActivePatterns("")
	want := []string{"high", "mid", "low"}
	if len(got) != 3 {
		t.Fatalf("ActivePatterns: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("rank %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMatchesAnyRaisingPatternContinues(t *testing.T) {
	r := New(Config{})
	r.AddPattern("cat", "bad[", 1)
	r.AddPattern("cat", ".ok", 2)

	node := &stubNode{
		matches: map[string]bool{".ok": true},
		raises:  map[string]bool{"bad[": true},
	}

	m := r.MatchesAny(node)
	if !m.Matched || m.Pattern != ".ok" {
		t.Fatalf("MatchesAny: got %+v, want match on .ok", m)
	}
	if fc := r.Entries("cat")["cat"][0].FailureCount; fc != 1 {
		t.Errorf("raising pattern FailureCount: got %d, want 1", fc)
	}
}

func TestUpdateFromConfigPreservesHealth(t *testing.T) {
	r := New(Config{})
	r.AddPattern("banner", ".ad", 5)
	r.RecordSuccess(".ad")
	before := r.Entries("banner")["banner"][0]

	r.UpdateFromConfig(map[string][]CatalogPattern{
		"banner": {{Pattern: ".ad", Priority: 1}, {Pattern: ".new", Priority: 2}},
	})

	entries := r.Entries("banner")["banner"]
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].SuccessRate != before.SuccessRate || entries[0].Priority != 5 {
		t.Errorf("existing entry mutated: %+v", entries[0])
	}
}
