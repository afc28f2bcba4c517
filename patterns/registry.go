// Package patterns maintains the health-scored catalog of structural match
// patterns used to locate ad candidates.
//
// Site markup changes silently break patterns. Instead of a static list, the
// registry keeps per-pattern success/failure bookkeeping and exposes a ranked,
// filtered view: patterns that keep failing age out automatically and healthy
// fallbacks take their place, with no redeploy.
package patterns

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/adscan/dom"
)

// Health thresholds. A pattern is active while it stays under MaxFailures
// consecutive-ish failures and at or above MinSuccessRate.
const (
	DefaultMaxFailures    = 5
	DefaultMinSuccessRate = 0.3
	defaultPriority       = 10
	neutralPrior          = 0.5
)

// Entry is one pattern with its health statistics.
type Entry struct {
	Pattern      string    `json:"pattern"`
	Priority     int       `json:"priority"` // 1 = highest
	SuccessRate  float64   `json:"success_rate"`
	FailureCount int       `json:"failure_count"`
	LastSuccess  time.Time `json:"last_success,omitzero"`
}

// score ranks entries: recently successful, high-priority patterns first.
func (e *Entry) score() float64 {
	return e.SuccessRate * (1 / float64(e.Priority))
}

// Match is the result of testing a node against the active catalog.
type Match struct {
	Matched  bool   `json:"matched"`
	Pattern  string `json:"pattern,omitempty"`
	Category string `json:"category,omitempty"`
}

// Config tunes the health thresholds.
type Config struct {
	MaxFailures    int
	MinSuccessRate float64
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MinSuccessRate <= 0 {
		c.MinSuccessRate = DefaultMinSuccessRate
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry is the health-tracked pattern catalog, grouped by named category.
// It is safe for concurrent use: the watcher loop mutates health while the
// status API and MCP tools read it.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	cats   map[string][]*Entry
	order  []string // category insertion order, for stable ranking ties
	logger *slog.Logger
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	cfg.defaults()
	return &Registry{
		cfg:    cfg,
		cats:   make(map[string][]*Entry),
		logger: cfg.Logger,
	}
}

// AddCategory replaces or creates a category with the given patterns, all at
// default priority and neutral prior. Existing health in the replaced
// category is discarded.
func (r *Registry) AddCategory(name string, patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*Entry, 0, len(patterns))
	for _, p := range patterns {
		entries = append(entries, &Entry{
			Pattern:     p,
			Priority:    defaultPriority,
			SuccessRate: neutralPrior,
		})
	}

	if _, exists := r.cats[name]; !exists {
		r.order = append(r.order, name)
	}
	r.cats[name] = entries
}

// AddPattern inserts a pattern into a category. Idempotent: a pattern string
// already present in the category is left untouched, health included.
func (r *Registry) AddPattern(category, pattern string, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addPatternLocked(category, pattern, priority)
}

func (r *Registry) addPatternLocked(category, pattern string, priority int) {
	if priority < 1 {
		priority = defaultPriority
	}
	for _, e := range r.cats[category] {
		if e.Pattern == pattern {
			return
		}
	}
	if _, exists := r.cats[category]; !exists {
		r.order = append(r.order, category)
	}
	r.cats[category] = append(r.cats[category], &Entry{
		Pattern:     pattern,
		Priority:    priority,
		SuccessRate: neutralPrior,
	})
}

// ActivePatterns returns the active pattern strings for one category, ranked
// by health. With an empty category it merges all categories into one ranked
// sequence. The slice is freshly built on every call; health mutates
// continuously, so a cached view would go stale immediately.
func (r *Registry) ActivePatterns(category string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranked := r.rankedLocked(category)
	out := make([]string, 0, len(ranked))
	for _, re := range ranked {
		out = append(out, re.entry.Pattern)
	}
	return out
}

type rankedEntry struct {
	entry    *Entry
	category string
}

// rankedLocked builds the active, ranked view. Ties keep category insertion
// order, then pattern insertion order.
func (r *Registry) rankedLocked(category string) []rankedEntry {
	var out []rankedEntry
	appendCat := func(name string) {
		for _, e := range r.cats[name] {
			if r.activeLocked(e) {
				out = append(out, rankedEntry{entry: e, category: name})
			}
		}
	}

	if category != "" {
		appendCat(category)
	} else {
		for _, name := range r.order {
			appendCat(name)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].entry.score() > out[j].entry.score()
	})
	return out
}

func (r *Registry) activeLocked(e *Entry) bool {
	return e.FailureCount < r.cfg.MaxFailures && e.SuccessRate >= r.cfg.MinSuccessRate
}

// RecordSuccess rewards every entry matching the pattern string, across all
// categories: success rate grows 10% (capped at 1), the failure count heals
// by one, and the last-success time is refreshed.
func (r *Registry) RecordSuccess(pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, entries := range r.cats {
		for _, e := range entries {
			if e.Pattern != pattern {
				continue
			}
			e.SuccessRate = clamp01(e.SuccessRate * 1.1)
			e.LastSuccess = now
			if e.FailureCount > 0 {
				e.FailureCount--
			}
		}
	}
}

// RecordFailure penalises every entry matching the pattern string. The decay
// has no floor: combined with the failure-count threshold this guarantees a
// structurally broken pattern is excluded after MaxFailures consecutive
// failures regardless of its historical success rate.
func (r *Registry) RecordFailure(pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entries := range r.cats {
		for _, e := range entries {
			if e.Pattern != pattern {
				continue
			}
			e.FailureCount++
			e.SuccessRate = clamp01(e.SuccessRate * 0.9)
		}
	}
}

// MatchesAny tests a node against the active catalog, healthiest pattern
// first, short-circuiting on the first hit. A pattern whose match attempt
// errors (malformed syntax) is recorded as a failure and evaluation continues
// with the next pattern. A broken pattern must never abort the caller.
func (r *Registry) MatchesAny(node dom.Node) Match {
	r.mu.Lock()
	ranked := r.rankedLocked("")
	r.mu.Unlock()

	for _, re := range ranked {
		ok, err := node.Matches(re.entry.Pattern)
		if err != nil {
			r.logger.Debug("registry: pattern match failed",
				"pattern", re.entry.Pattern, "error", err)
			r.RecordFailure(re.entry.Pattern)
			continue
		}
		if ok {
			return Match{Matched: true, Pattern: re.entry.Pattern, Category: re.category}
		}
	}
	return Match{}
}

// UpdateFromConfig bulk-inserts a category map, the ingestion path for
// remotely supplied catalogs. Health statistics of patterns already present
// are preserved (AddPattern is idempotent).
func (r *Registry) UpdateFromConfig(catalog map[string][]CatalogPattern) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for category, pats := range catalog {
		for _, cp := range pats {
			r.addPatternLocked(category, cp.Pattern, cp.Priority)
		}
	}
}

// Entries returns a copy of all entries in a category. Empty category
// returns every entry. Intended for the status API and persistence.
func (r *Registry) Entries(category string) map[string][]Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string][]Entry)
	for _, name := range r.order {
		if category != "" && name != category {
			continue
		}
		entries := make([]Entry, 0, len(r.cats[name]))
		for _, e := range r.cats[name] {
			entries = append(entries, *e)
		}
		out[name] = entries
	}
	return out
}

// Stats are point-in-time catalog counters.
type Stats struct {
	Categories int `json:"categories"`
	Patterns   int `json:"patterns"`
	Active     int `json:"active"`
}

// Stats returns the current counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Categories: len(r.cats)}
	for _, entries := range r.cats {
		s.Patterns += len(entries)
		for _, e := range entries {
			if r.activeLocked(e) {
				s.Active++
			}
		}
	}
	return s
}

// setHealth restores persisted health statistics for an existing entry.
func (r *Registry) setHealth(category, pattern string, successRate float64, failureCount int, lastSuccess time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.cats[category] {
		if e.Pattern == pattern {
			e.SuccessRate = clamp01(successRate)
			e.FailureCount = failureCount
			e.LastSuccess = lastSuccess
			return
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
