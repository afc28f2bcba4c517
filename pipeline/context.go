package pipeline

import (
	"log/slog"

	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/finding"
)

// Candidate is a node one or more stages flagged as a potential ad, together
// with the evidence those stages attached to it. Candidates become Findings
// once the classifier scores them.
type Candidate struct {
	Node           dom.Node
	Evidence       finding.Evidence
	DestinationURL string
	Source         string
	Stage          string // stage that first flagged the node
}

// Context is the shared state of one pipeline run. Created fresh per run,
// destroyed at the end; nothing outlives it except the returned candidates.
type Context struct {
	// ContextID identifies this run in reports and logs.
	ContextID string
	// Doc is the document snapshot being scanned.
	Doc dom.Document
	// Evidence is the run-level accumulated token list, order-preserving,
	// duplicates allowed.
	Evidence finding.Evidence
	// Candidates accumulates flagged nodes across stages.
	Candidates []Candidate

	logger *slog.Logger
}

// AddEvidence appends tokens to the run-level evidence.
func (rc *Context) AddEvidence(tokens ...string) {
	rc.Evidence = append(rc.Evidence, tokens...)
}

// AddCandidate appends a candidate record.
func (rc *Context) AddCandidate(c Candidate) {
	rc.Candidates = append(rc.Candidates, c)
}

// Logger returns the run logger.
func (rc *Context) Logger() *slog.Logger { return rc.logger }
