package scan

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/dom/htmldom"
)

func testWatchCfg() WatchConfig {
	return WatchConfig{
		Debounce:     Duration(10 * time.Millisecond),
		ScanInterval: Duration(time.Hour), // keep the ticker out of change-driven tests
	}
}

func playerNode(t *testing.T, doc *htmldom.Document) dom.Node {
	t.Helper()
	nodes, err := doc.QueryAll(".ad-showing")
	if err != nil || len(nodes) == 0 {
		t.Fatalf("player node lookup: %v", err)
	}
	return nodes[0]
}

func TestWatcher_ChangeTriggersScan(t *testing.T) {
	doc := parseDoc(t, adPage)
	s, reg := newTestScanner(nil, time.Millisecond)
	feed := htmldom.NewChangeFeed()

	w := NewWatcher(testWatchCfg(), WatcherDeps{
		Scanner:  s,
		Registry: reg,
		Doc:      doc,
		Changes:  feed,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if w.Degraded() {
		t.Fatal("watcher degraded with a working change source")
	}
	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 1 })

	feed.Emit(dom.Change{Inserted: []dom.Node{playerNode(t, doc)}})
	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 2 })

	// The changed element fed pattern health directly.
	for _, e := range reg.Entries("player")["player"] {
		if e.Pattern == ".ad-showing" && e.SuccessRate <= 0.5 {
			t.Errorf(".ad-showing success rate = %v, want raised", e.SuccessRate)
		}
	}
}

func TestWatcher_DebounceCoalescesBursts(t *testing.T) {
	doc := parseDoc(t, adPage)
	s, reg := newTestScanner(nil, time.Millisecond)
	feed := htmldom.NewChangeFeed()

	w := NewWatcher(testWatchCfg(), WatcherDeps{
		Scanner: s, Registry: reg, Doc: doc, Changes: feed,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 1 })

	n := playerNode(t, doc)
	for i := 0; i < 20; i++ {
		feed.Emit(dom.Change{Inserted: []dom.Node{n}})
	}

	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 2 })
	time.Sleep(50 * time.Millisecond)
	if runs := s.Pipeline.Stats().Runs; runs != 2 {
		t.Fatalf("burst of 20 changes caused %d scans, want 2 (initial + one batch)", runs)
	}
}

func TestWatcher_StopIsIdempotentAndRestartable(t *testing.T) {
	doc := parseDoc(t, adPage)
	s, reg := newTestScanner(nil, time.Millisecond)
	feed := htmldom.NewChangeFeed()

	w := NewWatcher(testWatchCfg(), WatcherDeps{
		Scanner: s, Registry: reg, Doc: doc, Changes: feed,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return feed.Subscribers() == 1 })

	w.Stop()
	w.Stop() // second Stop is a no-op
	if n := feed.Subscribers(); n != 0 {
		t.Fatalf("subscription not released: %d subscribers", n)
	}
	runsAfterStop := s.Pipeline.Stats().Runs

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer w.Stop()

	if n := feed.Subscribers(); n != 1 {
		t.Fatalf("restart did not re-attach: %d subscribers", n)
	}
	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == runsAfterStop+1 })
}

type unavailableSource struct{}

func (unavailableSource) Subscribe(dom.SubscribeOptions, func(dom.Change)) (dom.Subscription, error) {
	return nil, dom.ErrUnavailable
}

func TestWatcher_DegradesToPeriodicRescans(t *testing.T) {
	doc := parseDoc(t, adPage)
	s, reg := newTestScanner(nil, time.Millisecond)

	cfg := WatchConfig{Debounce: Duration(10 * time.Millisecond), ScanInterval: Duration(20 * time.Millisecond)}
	w := NewWatcher(cfg, WatcherDeps{
		Scanner: s, Registry: reg, Doc: doc, Changes: unavailableSource{},
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if !w.Degraded() {
		t.Fatal("watcher not degraded after unavailable change source")
	}
	waitFor(t, func() bool { return s.Pipeline.Stats().Runs >= 3 })
}

func TestWatcher_VisibleOnlyDefersProcessing(t *testing.T) {
	doc := parseDoc(t, adPage)
	s, reg := newTestScanner(nil, time.Millisecond)
	feed := htmldom.NewChangeFeed()
	vis := htmldom.NewVisibilityFeed()

	cfg := testWatchCfg()
	cfg.VisibleOnly = true
	w := NewWatcher(cfg, WatcherDeps{
		Scanner: s, Registry: reg, Doc: doc, Changes: feed, Visibility: vis,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 1 })

	n := playerNode(t, doc)
	feed.Emit(dom.Change{Inserted: []dom.Node{n}})

	time.Sleep(50 * time.Millisecond)
	if runs := s.Pipeline.Stats().Runs; runs != 1 {
		t.Fatalf("off-screen change triggered %d scans, want deferral", runs)
	}

	vis.SetVisible(n.ID(), true)
	waitFor(t, func() bool { return s.Pipeline.Stats().Runs == 2 })
}
