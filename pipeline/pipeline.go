// Package pipeline runs an ordered list of independent detection stages
// against one document snapshot and returns deduplicated candidates.
//
// Stage order matters and is fixed: the cheap, high-specificity player-state
// stage first, then broad pattern matching, then visual corroboration, then
// content extraction. Running the confident signals first lets later stages
// corroborate the same context instead of re-deriving it.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/finding"
	"github.com/hazyhaar/adscan/idgen"
)

// DefaultMinInterval is the minimum spacing between two runs. Calls inside
// the window return an empty result without executing any stage, which
// bounds the call rate even under adversarial callers.
const DefaultMinInterval = 100 * time.Millisecond

// Stage is one detection pass. Stages receive the shared run context, may
// append evidence tokens, and may append candidates. A stage's internal
// errors never propagate past the stage boundary.
type Stage interface {
	Name() string
	Run(rc *Context) error
}

// Config tunes a Pipeline.
type Config struct {
	Stages      []Stage
	MinInterval time.Duration
	Logger      *slog.Logger
	NewID       idgen.Generator
}

func (c *Config) defaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.NewID == nil {
		c.NewID = idgen.Prefixed("scan_", idgen.Default)
	}
}

// Result is the outcome of one Run call.
type Result struct {
	ContextID  string
	Candidates []Candidate
	Evidence   finding.Evidence
	Timings    map[string]time.Duration
	Throttled  bool
}

// Pipeline executes stages with strict non-overlap. Run is intended to be
// called from a single goroutine (the scan loop); the rate limiter spaces
// consecutive invocations.
type Pipeline struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	// statMu guards the counters: Run has a single owner (the scan loop)
	// but Stats is read from the status API.
	statMu  sync.Mutex
	lastRun time.Time
	runs    int
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:  cfg.Logger,
	}
}

// Run executes all stages against the document, in order, and returns the
// accumulated candidates filtered to unique-by-node (first occurrence wins;
// cross-run re-detection is the classifier cache's job, not ours). A call
// within MinInterval of the previous one returns an empty, Throttled result.
func (p *Pipeline) Run(doc dom.Document) *Result {
	res := &Result{
		ContextID: p.cfg.NewID(),
		Timings:   make(map[string]time.Duration),
	}

	if !p.limiter.Allow() {
		res.Throttled = true
		return res
	}

	rc := &Context{
		ContextID: res.ContextID,
		Doc:       doc,
		logger:    p.logger,
	}

	for _, stage := range p.cfg.Stages {
		start := time.Now()
		p.runStage(stage, rc)
		res.Timings[stage.Name()] = time.Since(start)
	}

	res.Candidates = uniqueByNode(rc.Candidates)
	res.Evidence = rc.Evidence

	p.statMu.Lock()
	p.lastRun = time.Now()
	p.runs++
	p.statMu.Unlock()

	p.logger.Debug("pipeline: run complete",
		"context_id", res.ContextID,
		"candidates", len(res.Candidates),
		"evidence", len(res.Evidence))
	return res
}

// runStage isolates a stage: its errors are recorded, its panics recovered.
// A stage that cannot complete contributes whatever partial evidence it
// already appended; subsequent stages still execute.
func (p *Pipeline) runStage(stage Stage, rc *Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("pipeline: stage panicked",
				"stage", stage.Name(), "panic", r)
		}
	}()

	if err := stage.Run(rc); err != nil {
		p.logger.Warn("pipeline: stage failed",
			"stage", stage.Name(), "error", err)
	}
}

// Stats are point-in-time pipeline counters.
type Stats struct {
	Runs    int       `json:"runs"`
	LastRun time.Time `json:"last_run,omitzero"`
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	p.statMu.Lock()
	defer p.statMu.Unlock()
	return Stats{Runs: p.runs, LastRun: p.lastRun}
}

func uniqueByNode(in []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(in))
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		id := c.Node.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, c)
	}
	return out
}
