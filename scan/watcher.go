package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/patterns"
)

// attributeAllowList is the set of attribute changes worth waking up for.
// Ad insertion flips classes and sources; everything else is page noise.
var attributeAllowList = []string{"class", "style", "src", "href", "aria-label", "hidden"}

// Watcher drives the scanner from document changes: a debounced change
// subscription plus a periodic full rescan. One event-loop goroutine owns
// all timing state; callbacks only push into buffered channels.
type Watcher struct {
	cfg        WatchConfig
	scanner    *Scanner
	registry   *patterns.Registry
	doc        dom.Document
	changes    dom.ChangeSource
	visibility dom.VisibilitySource
	logger     *slog.Logger

	mu        sync.Mutex
	running   bool
	degraded  bool
	cancel    context.CancelFunc
	done      chan struct{}
	changeSub dom.Subscription
	visSubs   map[string]dom.Subscription
}

// WatcherDeps are the collaborators a Watcher drives. Changes may be nil
// (periodic-only operation); Visibility may be nil (visible-only mode off).
type WatcherDeps struct {
	Scanner    *Scanner
	Registry   *patterns.Registry
	Doc        dom.Document
	Changes    dom.ChangeSource
	Visibility dom.VisibilitySource
	Logger     *slog.Logger
}

// NewWatcher creates a stopped Watcher.
func NewWatcher(cfg WatchConfig, deps WatcherDeps) *Watcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = Duration(100 * time.Millisecond)
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = Duration(2 * time.Second)
	}
	return &Watcher{
		cfg:        cfg,
		scanner:    deps.Scanner,
		registry:   deps.Registry,
		doc:        deps.Doc,
		changes:    deps.Changes,
		visibility: deps.Visibility,
		logger:     deps.Logger,
		visSubs:    make(map[string]dom.Subscription),
	}
}

// Start attaches the change subscription, runs an immediate scan, and begins
// the event loop. Calling Start on a running Watcher is a no-op; Start after
// Stop fully re-attaches. A change source that reports dom.ErrUnavailable
// degrades the Watcher to periodic rescans instead of failing.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	changeCh := make(chan dom.Change, 1024)
	visibleCh := make(chan dom.Node, 256)

	w.degraded = w.changes == nil
	if w.changes != nil {
		sub, err := w.changes.Subscribe(
			dom.SubscribeOptions{AttributeAllowList: attributeAllowList},
			func(ch dom.Change) {
				select {
				case changeCh <- ch:
				default:
					w.logger.Warn("scan: change channel full, dropping")
				}
			})
		switch {
		case errors.Is(err, dom.ErrUnavailable):
			w.degraded = true
			w.logger.Warn("scan: change notifications unavailable, periodic rescans only")
		case err != nil:
			w.mu.Unlock()
			return err
		default:
			w.changeSub = sub
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	go w.loop(runCtx, changeCh, visibleCh)
	return nil
}

// Stop releases all subscriptions and cancels the event loop, then waits for
// it to exit. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel, done := w.cancel, w.done
	changeSub := w.changeSub
	w.changeSub = nil
	visSubs := w.visSubs
	w.visSubs = make(map[string]dom.Subscription)
	w.mu.Unlock()

	cancel()
	<-done

	if changeSub != nil {
		changeSub.Close()
	}
	for _, sub := range visSubs {
		sub.Close()
	}
}

// Degraded reports whether the Watcher is running without change
// notifications.
func (w *Watcher) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

func (w *Watcher) loop(ctx context.Context, changeCh <-chan dom.Change, visibleCh chan dom.Node) {
	defer close(w.done)

	deb := newDebouncer(debounceConfig{Window: w.cfg.Debounce.Std()}, func(nodes []dom.Node) {
		w.onBatch(ctx, nodes, visibleCh)
	})
	ticker := time.NewTicker(w.cfg.ScanInterval.Std())
	defer ticker.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case ch := <-changeCh:
			nodes := ch.Inserted
			if ch.Target != nil {
				nodes = append(nodes, ch.Target)
			}
			deb.add(nodes...)

		case <-deb.timerC():
			deb.flush()

		case n := <-visibleCh:
			w.releaseVisibilitySub(n)
			w.matchNode(n)
			w.scan(ctx)

		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// onBatch handles one debounced change batch. In visible-only mode nodes not
// yet on screen get a visibility subscription instead of processing; the
// rest feed pattern health and trigger a scan.
func (w *Watcher) onBatch(ctx context.Context, nodes []dom.Node, visibleCh chan dom.Node) {
	scanNeeded := false
	for _, n := range nodes {
		if w.cfg.VisibleOnly && w.visibility != nil && w.deferUntilVisible(n, visibleCh) {
			continue
		}
		w.matchNode(n)
		scanNeeded = true
	}
	if scanNeeded {
		w.scan(ctx)
	}
}

// matchNode feeds one changed element through the pattern catalog so health
// updates even when the full pipeline is throttled.
func (w *Watcher) matchNode(n dom.Node) {
	if w.registry == nil {
		return
	}
	if m := w.registry.MatchesAny(n); m.Matched {
		w.registry.RecordSuccess(m.Pattern)
		w.logger.Debug("scan: changed element matched",
			"node", n.ID(), "pattern", m.Pattern, "category", m.Category)
	}
}

// deferUntilVisible attaches a one-shot visibility subscription. Returns
// false when the subscription cannot be established; the caller processes
// the node immediately instead.
func (w *Watcher) deferUntilVisible(n dom.Node, visibleCh chan dom.Node) bool {
	w.mu.Lock()
	if _, observed := w.visSubs[n.ID()]; observed {
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	sub, err := w.visibility.Observe(n, func(visible bool) {
		if !visible {
			return
		}
		select {
		case visibleCh <- n:
		default:
		}
	})
	if err != nil {
		w.logger.Debug("scan: visibility observe failed, processing immediately",
			"node", n.ID(), "error", err)
		return false
	}

	w.mu.Lock()
	w.visSubs[n.ID()] = sub
	w.mu.Unlock()
	return true
}

func (w *Watcher) releaseVisibilitySub(n dom.Node) {
	w.mu.Lock()
	sub := w.visSubs[n.ID()]
	delete(w.visSubs, n.ID())
	w.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (w *Watcher) scan(ctx context.Context) {
	reports := w.scanner.ScanOnce(ctx, w.doc)
	if len(reports) > 0 {
		w.logger.Info("scan: detections reported", "count", len(reports))
	}
}
