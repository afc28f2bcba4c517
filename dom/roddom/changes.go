package roddom

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/adscan/dom"
)

// ChangeFeed delivers structural changes for a live page straight from the
// CDP DOM domain: childNodeInserted and attributeModified, filtered by the
// subscriber's allow list. Node IDs referenced by events are resolved back
// into elements at delivery time; nodes that vanished in between are dropped.
type ChangeFeed struct {
	doc *Document
}

// NewChangeFeed builds a feed for the document's page.
func NewChangeFeed(doc *Document) *ChangeFeed {
	return &ChangeFeed{doc: doc}
}

// Subscribe implements dom.ChangeSource. The error wraps dom.ErrUnavailable
// when the DOM domain cannot be enabled, so callers can fall back to
// periodic rescans.
func (cf *ChangeFeed) Subscribe(opts dom.SubscribeOptions, fn func(dom.Change)) (dom.Subscription, error) {
	if cf.doc == nil || cf.doc.page == nil {
		return nil, dom.ErrUnavailable
	}
	page := cf.doc.page

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("%w: enable DOM domain: %v", dom.ErrUnavailable, err)
	}
	// Chrome only emits per-node DOM events for nodes it has been asked to
	// track. Requesting the full document once turns that tracking on.
	depth := -1
	if _, err := (proto.DOMGetDocument{Depth: &depth, Pierce: true}).Call(page); err != nil {
		return nil, fmt.Errorf("%w: request document: %v", dom.ErrUnavailable, err)
	}

	allowed := make(map[string]bool, len(opts.AttributeAllowList))
	for _, a := range opts.AttributeAllowList {
		allowed[a] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		wait := page.Context(ctx).EachEvent(
			func(e *proto.DOMChildNodeInserted) {
				if e.Node == nil || e.Node.NodeType != 1 {
					return
				}
				n := cf.doc.nodeFromCDP(e.Node.NodeID)
				if n == nil {
					return
				}
				fn(dom.Change{Inserted: []dom.Node{n}})
			},
			func(e *proto.DOMAttributeModified) {
				if !allowed[e.Name] {
					return
				}
				n := cf.doc.nodeFromCDP(e.NodeID)
				if n == nil {
					return
				}
				fn(dom.Change{Target: n, Attr: e.Name})
			},
		)
		wait()
	}()

	return &cancelSub{cancel: cancel}, nil
}

type cancelSub struct {
	cancel context.CancelFunc
}

func (s *cancelSub) Close() error {
	s.cancel()
	return nil
}
