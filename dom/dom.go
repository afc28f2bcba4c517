// Package dom defines the document-tree collaborator interfaces the scanner
// runs against. Implementations live in subpackages: htmldom (static parsed
// HTML, used for snapshot scans and tests) and roddom (a live Chrome page
// driven over CDP).
//
// The engine never assumes it can patch or intercept the host environment.
// Everything it needs (querying, change notifications, visibility) is an
// explicit interface wired in at construction time.
package dom

import "errors"

// ErrUnavailable is returned by Subscribe/Observe when the host environment
// cannot provide the notification source. Callers degrade gracefully
// (the watcher falls back to periodic rescans).
var ErrUnavailable = errors.New("dom: notification source unavailable")

// Node is one element of the document tree. IDs are stable opaque
// identifiers assigned on first sight and reused for the node's lifetime, so
// cache entries can be keyed without holding a live object reference.
type Node interface {
	// ID returns the stable opaque identifier of this node.
	ID() string
	// Tag returns the lower-cased element name.
	Tag() string
	// Attr returns the value of the named attribute, or "".
	Attr(name string) string
	// Text returns the concatenated text content of the subtree.
	Text() string
	// Matches tests this node against a pattern. A malformed pattern
	// returns an error instead of panicking; callers treat it as a
	// pattern failure.
	Matches(pattern string) (bool, error)
	// Find returns descendants matching the pattern.
	Find(pattern string) ([]Node, error)
	// Links returns the href values of descendant anchors (self included).
	Links() []string
	// Images returns the src values of descendant images (self included).
	Images() []string
	// MediaTime returns the current playback position in seconds of the
	// media element associated with this node, if any.
	MediaTime() (float64, bool)
}

// Document is the queryable root of a document tree.
type Document interface {
	// QueryAll returns all nodes matching the pattern. A malformed
	// pattern returns an error; it never panics.
	QueryAll(pattern string) ([]Node, error)
	// Root returns the document root node.
	Root() Node
	// URL returns the document's address, if known.
	URL() string
}

// Change is one structural-change notification. Inserted holds new nodes;
// for attribute changes Target and Attr identify the mutation.
type Change struct {
	Inserted []Node
	Target   Node
	Attr     string
}

// SubscribeOptions narrows what a ChangeSource delivers.
type SubscribeOptions struct {
	// AttributeAllowList restricts attribute-change notifications to the
	// named attributes. Empty means attribute changes are not delivered.
	AttributeAllowList []string
}

// Subscription is a handle to an active notification stream.
type Subscription interface {
	Close() error
}

// ChangeSource delivers structural change notifications for a document.
// Implementations must deliver changes in the order they were observed.
type ChangeSource interface {
	Subscribe(opts SubscribeOptions, fn func(Change)) (Subscription, error)
}

// VisibilitySource notifies when a node enters or leaves the viewport.
type VisibilitySource interface {
	Observe(node Node, fn func(visible bool)) (Subscription, error)
}
