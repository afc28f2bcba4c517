// Package htmldom implements the dom interfaces over a statically parsed
// HTML tree. It backs snapshot scans (scan a fetched page once) and the test
// suite, with CSS selectors as the pattern language, the same language the
// live roddom implementation speaks.
package htmldom

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/adscan/dom"
)

// Document is a parsed, immutable HTML tree. Node identity is assigned from
// a side table on first sight: stable opaque IDs, no live-pointer keys
// escape the package.
type Document struct {
	root *html.Node
	url  string

	mu     sync.Mutex
	ids    map[*html.Node]string
	nextID int
}

// Parse builds a Document from raw HTML.
func Parse(rawHTML, pageURL string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{
		root: root,
		url:  pageURL,
		ids:  make(map[*html.Node]string),
	}, nil
}

// URL returns the document's address.
func (d *Document) URL() string { return d.url }

// Root returns the document root.
func (d *Document) Root() dom.Node { return d.wrap(d.root) }

// QueryAll returns all nodes matching the CSS selector. A malformed selector
// returns an error; it never panics.
func (d *Document) QueryAll(pattern string) ([]dom.Node, error) {
	sel, err := cascadia.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("htmldom: pattern %q: %w", pattern, err)
	}
	var out []dom.Node
	for _, n := range sel.MatchAll(d.root) {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

func (d *Document) wrap(n *html.Node) *Node {
	return &Node{doc: d, n: n}
}

func (d *Document) idOf(n *html.Node) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[n]; ok {
		return id
	}
	d.nextID++
	id := "n" + strconv.Itoa(d.nextID)
	d.ids[n] = id
	return id
}

// Node is one element of a Document.
type Node struct {
	doc *Document
	n   *html.Node
}

// ID returns the stable opaque identifier of this node.
func (nd *Node) ID() string { return nd.doc.idOf(nd.n) }

// Tag returns the lower-cased element name, or "" for non-elements.
func (nd *Node) Tag() string {
	if nd.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(nd.n.Data)
}

// Attr returns the value of the named attribute, or "".
func (nd *Node) Attr(name string) string {
	for _, a := range nd.n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// Text returns the concatenated, space-normalised text of the subtree.
func (nd *Node) Text() string {
	var sb strings.Builder
	collectText(nd.n, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript:
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// Matches tests this node against a CSS selector.
func (nd *Node) Matches(pattern string) (bool, error) {
	sel, err := cascadia.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("htmldom: pattern %q: %w", pattern, err)
	}
	return sel.Match(nd.n), nil
}

// Find returns descendants matching the CSS selector.
func (nd *Node) Find(pattern string) ([]dom.Node, error) {
	sel, err := cascadia.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("htmldom: pattern %q: %w", pattern, err)
	}
	var out []dom.Node
	for _, m := range sel.MatchAll(nd.n) {
		out = append(out, nd.doc.wrap(m))
	}
	return out, nil
}

// Links returns href values of anchors in the subtree, self included.
func (nd *Node) Links() []string {
	return nd.collectAttr(atom.A, "href")
}

// Images returns src values of images in the subtree, self included.
func (nd *Node) Images() []string {
	return nd.collectAttr(atom.Img, "src")
}

func (nd *Node) collectAttr(tag atom.Atom, attr string) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			for _, a := range n.Attr {
				if a.Key == attr && a.Val != "" {
					out = append(out, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(nd.n)
	return out
}

// MediaTime returns the playback position of the nearest media element in
// the subtree. Static trees carry no runtime playback state, so the position
// is read from the data-current-time attribute when present (snapshots
// produced by roddom serialise it there).
func (nd *Node) MediaTime() (float64, bool) {
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Video || n.DataAtom == atom.Audio) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(nd.n)
	if found == nil {
		return 0, false
	}
	for _, a := range found.Attr {
		if a.Key == "data-current-time" {
			if v, err := strconv.ParseFloat(a.Val, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, true
}
