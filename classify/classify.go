package classify

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/finding"
)

// DefaultCacheTTL is how long a per-node classification stays fresh.
const DefaultCacheTTL = 2000 * time.Millisecond

// midrollCutoff separates preroll from midroll by playback position.
const midrollCutoff = 5.0 // seconds

// Config tunes a Classifier.
type Config struct {
	// CacheTTL is the per-node result expiry. Default: 2s.
	CacheTTL time.Duration
	Logger   *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Classifier scores and types candidates, caching per-node results for a
// short window. Entries are keyed by the node's stable ID (a side table
// with explicit expiry, never live object identity) and evicted on lookup.
type Classifier struct {
	mu    sync.Mutex
	cfg   Config
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	result  finding.Finding
	expires time.Time
}

// New creates a Classifier.
func New(cfg Config) *Classifier {
	cfg.defaults()
	return &Classifier{
		cfg:   cfg,
		cache: make(map[string]*cacheEntry),
	}
}

// Classify scores a node's evidence and assigns an ad type. If a fresh
// cached result exists the new evidence is merged as a set union; only a
// strictly grown evidence set triggers recomputation, so re-observing the
// same element across stages of one scan burst is nearly free.
func (c *Classifier) Classify(node dom.Node, newEvidence finding.Evidence) finding.Finding {
	now := c.cfg.Now()

	c.mu.Lock()
	entry, ok := c.cache[node.ID()]
	if ok && now.After(entry.expires) {
		delete(c.cache, node.ID())
		entry, ok = nil, false
	}
	c.mu.Unlock()

	if ok {
		merged, grew := entry.result.Evidence.Union(newEvidence)
		if !grew {
			return entry.result
		}
		return c.store(node, merged, now)
	}

	// Copy: the finding owns its evidence, the caller may reuse the slice.
	ev := make(finding.Evidence, len(newEvidence))
	copy(ev, newEvidence)
	return c.store(node, ev, now)
}

func (c *Classifier) store(node dom.Node, ev finding.Evidence, now time.Time) finding.Finding {
	f := finding.Finding{
		NodeID:     node.ID(),
		Tag:        node.Tag(),
		Type:       TypeOf(node, ev),
		Confidence: ScoreEvidence(ev),
		Evidence:   ev,
		Timestamp:  now.UnixMilli(),
	}

	c.mu.Lock()
	c.cache[node.ID()] = &cacheEntry{result: f, expires: now.Add(c.cfg.CacheTTL)}
	c.mu.Unlock()
	return f
}

// Sweep evicts all expired cache entries and returns how many were removed.
// Lookup already evicts lazily; this bounds memory between lookups.
func (c *Classifier) Sweep() int {
	now := c.cfg.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.cache {
		if now.After(e.expires) {
			delete(c.cache, id)
			removed++
		}
	}
	return removed
}

// CacheSize returns the number of live cache entries.
func (c *Classifier) CacheSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// TypeOf infers the ad type from a node and its evidence. Rules apply in
// order, first match wins.
func TypeOf(node dom.Node, ev finding.Evidence) finding.AdType {
	switch {
	case ev.Contains("ad-showing") || ev.Contains("ad-interrupting") || ev.Contains("state:"):
		if t, ok := node.MediaTime(); ok && t >= midrollCutoff {
			return finding.TypeMidroll
		}
		return finding.TypePreroll
	case ev.Contains("overlay") || mentionsClass(node, "overlay"):
		return finding.TypeOverlay
	case ev.Contains("banner") || mentionsClass(node, "banner"):
		return finding.TypeBanner
	case ev.Contains("promoted") || ev.Contains("sparkles") ||
		mentionsClass(node, "promoted") || mentionsClass(node, "sparkles"):
		return finding.TypeSponsored
	case ev.Contains("display") || mentionsClass(node, "display"):
		return finding.TypeDisplay
	case ev.Contains("network"):
		return finding.TypeNetwork
	default:
		return finding.TypeDisplay
	}
}

func mentionsClass(node dom.Node, word string) bool {
	if node == nil {
		return false
	}
	return strings.Contains(strings.ToLower(node.Attr("class")), word)
}
