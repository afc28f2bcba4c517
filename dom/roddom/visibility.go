package roddom

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/adscan/dom"
)

const visBinding = "adscanVisibility"

// VisibilityFeed reports viewport intersection for live nodes. Each Observe
// call installs an IntersectionObserver on the element inside the page; the
// observer reports back over a runtime binding shared by all observations on
// the page.
type VisibilityFeed struct {
	doc *Document

	mu      sync.Mutex
	subs    map[string]func(visible bool)
	started bool
	cancel  context.CancelFunc
	next    int
}

// NewVisibilityFeed builds a feed for the document's page.
func NewVisibilityFeed(doc *Document) *VisibilityFeed {
	return &VisibilityFeed{doc: doc, subs: make(map[string]func(bool))}
}

type visEvent struct {
	ID      string `json:"id"`
	Visible bool   `json:"visible"`
}

// Observe implements dom.VisibilitySource. The error wraps
// dom.ErrUnavailable when the binding cannot be installed.
func (vf *VisibilityFeed) Observe(node dom.Node, fn func(visible bool)) (dom.Subscription, error) {
	n, ok := node.(*Node)
	if !ok || n.el == nil || vf.doc == nil || vf.doc.page == nil {
		return nil, dom.ErrUnavailable
	}

	if err := vf.ensureBinding(); err != nil {
		return nil, err
	}

	vf.mu.Lock()
	vf.next++
	token := "v" + strconv.Itoa(vf.next)
	vf.subs[token] = fn
	vf.mu.Unlock()

	_, err := n.el.Eval(`(token, binding) => {
		window.__adscanVis = window.__adscanVis || {};
		const obs = new IntersectionObserver(entries => {
			for (const e of entries) {
				window[binding](JSON.stringify({id: token, visible: e.isIntersecting}));
			}
		});
		obs.observe(this);
		window.__adscanVis[token] = obs;
	}`, token, visBinding)
	if err != nil {
		vf.mu.Lock()
		delete(vf.subs, token)
		vf.mu.Unlock()
		return nil, fmt.Errorf("%w: install observer: %v", dom.ErrUnavailable, err)
	}

	return &visSub{feed: vf, token: token}, nil
}

// ensureBinding installs the page-level callback and starts the single
// dispatch goroutine on first use.
func (vf *VisibilityFeed) ensureBinding() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.started {
		return nil
	}

	page := vf.doc.page
	if err := (proto.RuntimeAddBinding{Name: visBinding}).Call(page); err != nil {
		return fmt.Errorf("%w: add binding: %v", dom.ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	vf.cancel = cancel
	vf.started = true

	go func() {
		wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
			if e.Name != visBinding {
				return
			}
			var ev visEvent
			if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
				return
			}
			vf.mu.Lock()
			fn := vf.subs[ev.ID]
			vf.mu.Unlock()
			if fn != nil {
				fn(ev.Visible)
			}
		})
		wait()
	}()
	return nil
}

// Close stops the dispatch goroutine. Open observations stop reporting.
func (vf *VisibilityFeed) Close() error {
	vf.mu.Lock()
	defer vf.mu.Unlock()
	if vf.cancel != nil {
		vf.cancel()
		vf.cancel = nil
		vf.started = false
	}
	vf.subs = make(map[string]func(bool))
	return nil
}

type visSub struct {
	feed  *VisibilityFeed
	token string
}

func (s *visSub) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s.token)
	s.feed.mu.Unlock()

	if page := s.feed.doc.page; page != nil {
		_, _ = page.Eval(`(token) => {
			const obs = window.__adscanVis && window.__adscanVis[token];
			if (obs) {
				obs.disconnect();
				delete window.__adscanVis[token];
			}
		}`, s.token)
	}
	return nil
}
