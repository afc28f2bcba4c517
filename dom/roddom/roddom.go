// Package roddom implements the dom interfaces over a live Chrome page
// driven through Rod/CDP: querying against the rendered tree, structural
// change notifications from CDP DOM events, and viewport visibility from an
// injected IntersectionObserver.
package roddom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/adscan/dom"
)

// Document is a live document over a Rod page.
type Document struct {
	page *rod.Page
	url  string
}

// NewDocument wraps an open page. The caller owns the page lifecycle.
func NewDocument(page *rod.Page, pageURL string) *Document {
	return &Document{page: page, url: pageURL}
}

// URL implements dom.Document.
func (d *Document) URL() string { return d.url }

// Page returns the underlying Rod page.
func (d *Document) Page() *rod.Page { return d.page }

// Root implements dom.Document.
func (d *Document) Root() dom.Node {
	el, err := d.page.Element("html")
	if err != nil {
		return &Node{doc: d}
	}
	return d.wrap(el)
}

// QueryAll implements dom.Document. A selector the browser rejects comes
// back as an error, never a panic.
func (d *Document) QueryAll(pattern string) ([]dom.Node, error) {
	els, err := d.page.Elements(pattern)
	if err != nil {
		return nil, fmt.Errorf("roddom: pattern %q: %w", pattern, err)
	}
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		out = append(out, d.wrap(el))
	}
	return out, nil
}

func (d *Document) wrap(el *rod.Element) *Node {
	n := &Node{doc: d, el: el}
	if desc, err := el.Describe(0, false); err == nil {
		n.id = "b" + strconv.Itoa(int(desc.BackendNodeID))
		n.tag = strings.ToLower(desc.NodeName)
	}
	return n
}

// Node is one live element. The ID is the CDP backend node ID, which Chrome
// keeps stable for the node's lifetime, so classifier cache entries survive
// between scans without pinning the element object.
type Node struct {
	doc *Document
	el  *rod.Element
	id  string
	tag string
}

// ID implements dom.Node.
func (n *Node) ID() string { return n.id }

// Tag implements dom.Node.
func (n *Node) Tag() string { return n.tag }

// Attr implements dom.Node. Lookup failures read as an absent attribute.
func (n *Node) Attr(name string) string {
	if n.el == nil {
		return ""
	}
	v, err := n.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

// Text implements dom.Node.
func (n *Node) Text() string {
	if n.el == nil {
		return ""
	}
	txt, err := n.el.Text()
	if err != nil {
		return ""
	}
	return txt
}

// Matches implements dom.Node.
func (n *Node) Matches(pattern string) (bool, error) {
	if n.el == nil {
		return false, nil
	}
	ok, err := n.el.Matches(pattern)
	if err != nil {
		return false, fmt.Errorf("roddom: pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// Find implements dom.Node.
func (n *Node) Find(pattern string) ([]dom.Node, error) {
	if n.el == nil {
		return nil, nil
	}
	els, err := n.el.Elements(pattern)
	if err != nil {
		return nil, fmt.Errorf("roddom: pattern %q: %w", pattern, err)
	}
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		out = append(out, n.doc.wrap(el))
	}
	return out, nil
}

// Links implements dom.Node, self included.
func (n *Node) Links() []string {
	return n.collectStrings(`() => {
		const out = [];
		if (this.matches && this.matches('a[href]')) out.push(this.href);
		for (const a of this.querySelectorAll('a[href]')) out.push(a.href);
		return out;
	}`)
}

// Images implements dom.Node, self included.
func (n *Node) Images() []string {
	return n.collectStrings(`() => {
		const out = [];
		if (this.matches && this.matches('img[src]')) out.push(this.src);
		for (const i of this.querySelectorAll('img[src]')) out.push(i.src);
		return out;
	}`)
}

// MediaTime implements dom.Node: the playback position of this element or
// its first media descendant.
func (n *Node) MediaTime() (float64, bool) {
	if n.el == nil {
		return 0, false
	}
	res, err := n.el.Eval(`() => {
		const m = this.matches && this.matches('video,audio')
			? this
			: this.querySelector('video,audio');
		if (!m) return -1;
		return m.currentTime;
	}`)
	if err != nil {
		return 0, false
	}
	v := res.Value.Num()
	if v < 0 {
		return 0, false
	}
	return v, true
}

func (n *Node) collectStrings(js string) []string {
	if n.el == nil {
		return nil
	}
	res, err := n.el.Eval(js)
	if err != nil {
		return nil
	}
	var out []string
	for _, v := range res.Value.Arr() {
		if s := v.Str(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// nodeFromCDP resolves a CDP node ID into a wrapped Node. Nodes that vanish
// between the event and the resolve call return nil.
func (d *Document) nodeFromCDP(nodeID proto.DOMNodeID) *Node {
	el, err := d.page.ElementFromNode(&proto.DOMNode{NodeID: nodeID})
	if err != nil {
		return nil
	}
	return d.wrap(el)
}
