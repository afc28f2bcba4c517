package htmldom

import (
	"sync"

	"github.com/hazyhaar/adscan/dom"
)

// ChangeFeed is a programmatic dom.ChangeSource: callers push Change values
// and every live subscriber receives them in order. Snapshot pipelines and
// tests drive the watcher through it; roddom has its own CDP-backed source.
type ChangeFeed struct {
	mu   sync.Mutex
	subs map[int]*feedSub
	next int
}

type feedSub struct {
	feed *ChangeFeed
	id   int
	opts dom.SubscribeOptions
	fn   func(dom.Change)
}

// NewChangeFeed creates an empty feed.
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[int]*feedSub)}
}

// Subscribe registers a callback for future changes.
func (f *ChangeFeed) Subscribe(opts dom.SubscribeOptions, fn func(dom.Change)) (dom.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	s := &feedSub{feed: f, id: f.next, opts: opts, fn: fn}
	f.subs[s.id] = s
	return s, nil
}

// Emit delivers a change to all subscribers. Attribute changes are filtered
// through each subscriber's allow list.
func (f *ChangeFeed) Emit(ch dom.Change) {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		if ch.Attr != "" && len(s.opts.AttributeAllowList) > 0 && !contains(s.opts.AttributeAllowList, ch.Attr) {
			continue
		}
		s.fn(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (f *ChangeFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (s *feedSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs, s.id)
	return nil
}

// VisibilityFeed is a programmatic dom.VisibilitySource keyed by node ID.
type VisibilityFeed struct {
	mu   sync.Mutex
	subs map[string][]*visSub
}

type visSub struct {
	feed   *VisibilityFeed
	nodeID string
	fn     func(bool)
}

// NewVisibilityFeed creates an empty feed.
func NewVisibilityFeed() *VisibilityFeed {
	return &VisibilityFeed{subs: make(map[string][]*visSub)}
}

// Observe registers a visibility callback for a node.
func (f *VisibilityFeed) Observe(node dom.Node, fn func(bool)) (dom.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &visSub{feed: f, nodeID: node.ID(), fn: fn}
	f.subs[node.ID()] = append(f.subs[node.ID()], s)
	return s, nil
}

// SetVisible notifies all observers of a node.
func (f *VisibilityFeed) SetVisible(nodeID string, visible bool) {
	f.mu.Lock()
	subs := append([]*visSub(nil), f.subs[nodeID]...)
	f.mu.Unlock()

	for _, s := range subs {
		s.fn(visible)
	}
}

func (s *visSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	list := s.feed.subs[s.nodeID]
	for i, cur := range list {
		if cur == s {
			s.feed.subs[s.nodeID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.feed.subs[s.nodeID]) == 0 {
		delete(s.feed.subs, s.nodeID)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
