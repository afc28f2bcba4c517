package pipeline

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/adscan/classify"
	"github.com/hazyhaar/adscan/extractor"
	"github.com/hazyhaar/adscan/finding"
	"github.com/hazyhaar/adscan/patterns"
)

// stateMarkers are the player-state class names that flip while an ad plays.
// These are the highest-specificity signals the engine has, so the state
// stage runs them directly instead of going through the ranked catalog.
var stateMarkers = []string{"ad-showing", "ad-interrupting"}

// StateStage checks player-state markers: class names the player itself
// toggles during ad playback.
type StateStage struct{}

// Name implements Stage.
func (StateStage) Name() string { return "state" }

// Run implements Stage.
func (s StateStage) Run(rc *Context) error {
	for _, marker := range stateMarkers {
		nodes, err := rc.Doc.QueryAll("." + marker)
		if err != nil {
			return fmt.Errorf("state stage: query %q: %w", marker, err)
		}
		token := "state:" + marker
		for _, n := range nodes {
			rc.AddEvidence(token)
			rc.AddCandidate(Candidate{
				Node:     n,
				Evidence: finding.Evidence{token},
				Stage:    s.Name(),
			})
		}
	}
	return nil
}

// PatternStage matches the ranked pattern catalog against the document and
// feeds the outcome back into pattern health: a pattern that finds nodes is
// rewarded, one whose query errors is penalised. A pattern that merely finds
// nothing is neither; absence of ads is not a broken pattern.
type PatternStage struct {
	Registry *patterns.Registry
}

// Name implements Stage.
func (PatternStage) Name() string { return "pattern" }

// Run implements Stage.
func (s PatternStage) Run(rc *Context) error {
	for _, pattern := range s.Registry.ActivePatterns("") {
		nodes, err := rc.Doc.QueryAll(pattern)
		if err != nil {
			rc.Logger().Debug("pattern stage: query failed",
				"pattern", pattern, "error", err)
			s.Registry.RecordFailure(pattern)
			continue
		}
		if len(nodes) == 0 {
			continue
		}
		s.Registry.RecordSuccess(pattern)
		token := patternToken(pattern)
		for _, n := range nodes {
			rc.AddEvidence(token)
			rc.AddCandidate(Candidate{
				Node:     n,
				Evidence: finding.Evidence{token},
				Stage:    s.Name(),
			})
		}
	}
	return nil
}

// patternToken derives an evidence token from a pattern string. Attribute
// patterns become "attr:<name>", class and id patterns "element:<name>".
func patternToken(pattern string) string {
	if strings.HasPrefix(pattern, "[") {
		name := strings.TrimPrefix(pattern, "[")
		if i := strings.IndexAny(name, "*^$~|=]"); i >= 0 {
			name = name[:i]
		}
		return "attr:" + name
	}
	name := strings.TrimLeft(pattern, ".#")
	if i := strings.IndexAny(name, " .[:>"); i >= 0 {
		name = name[:i]
	}
	return "element:" + name
}

// bannerSizes are the standard display dimensions (width x height) that
// mark an otherwise anonymous frame or image as an ad slot.
var bannerSizes = map[[2]string]bool{
	{"728", "90"}:  true,
	{"300", "250"}: true,
	{"336", "280"}: true,
	{"320", "50"}:  true,
	{"160", "600"}: true,
	{"970", "250"}: true,
	{"300", "600"}: true,
}

// HeuristicStage looks for visual ad tells that need no catalog entry:
// frames and images cut to standard banner dimensions, and sticky overlay
// containers. Visual signals carry low weight on their own; their job is to
// corroborate candidates the earlier stages already found.
type HeuristicStage struct{}

// Name implements Stage.
func (HeuristicStage) Name() string { return "heuristic" }

// Run implements Stage.
func (s HeuristicStage) Run(rc *Context) error {
	for _, sel := range []string{"iframe", "img"} {
		nodes, err := rc.Doc.QueryAll(sel)
		if err != nil {
			return fmt.Errorf("heuristic stage: query %q: %w", sel, err)
		}
		for _, n := range nodes {
			if !bannerSizes[[2]string{n.Attr("width"), n.Attr("height")}] {
				continue
			}
			rc.AddEvidence("visual:banner-size")
			rc.AddCandidate(Candidate{
				Node:     n,
				Evidence: finding.Evidence{"visual:banner-size"},
				Stage:    s.Name(),
			})
		}
	}

	overlays, err := rc.Doc.QueryAll("[class*=overlay]")
	if err != nil {
		return fmt.Errorf("heuristic stage: query overlays: %w", err)
	}
	for _, n := range overlays {
		class := n.Attr("class")
		style := n.Attr("style")
		if !strings.Contains(class, "sticky") && !strings.Contains(style, "fixed") {
			continue
		}
		rc.AddEvidence("visual:sticky-overlay")
		rc.AddCandidate(Candidate{
			Node:     n,
			Evidence: finding.Evidence{"visual:sticky-overlay"},
			Stage:    s.Name(),
		})
	}
	return nil
}

// ContentStage extracts advertised destinations. It enriches candidates the
// earlier stages flagged, and additionally sweeps aria-labelled nodes for
// destination references that no structural pattern covers, which is how
// label-only promoted content gets caught.
type ContentStage struct {
	Extractor *extractor.Extractor
}

// Name implements Stage.
func (ContentStage) Name() string { return "content" }

// Run implements Stage.
func (s ContentStage) Run(rc *Context) error {
	for i := range rc.Candidates {
		c := &rc.Candidates[i]
		if c.DestinationURL != "" {
			continue
		}
		dest, ok := s.Extractor.Destination(c.Node)
		if !ok {
			continue
		}
		token := "content:" + dest.Source + "-domain"
		c.DestinationURL = dest.URL
		c.Source = dest.Source
		c.Evidence = append(c.Evidence, token)
		rc.AddEvidence(token)
	}

	labelled, err := rc.Doc.QueryAll("[aria-label]")
	if err != nil {
		return fmt.Errorf("content stage: query labelled: %w", err)
	}
	for _, n := range labelled {
		if !classify.IsPlausibleAdReference(strings.TrimSpace(n.Attr("aria-label"))) {
			continue
		}
		dest, ok := s.Extractor.Destination(n)
		if !ok {
			continue
		}
		token := "content:" + dest.Source + "-domain"
		rc.AddEvidence(token)
		rc.AddCandidate(Candidate{
			Node:           n,
			Evidence:       finding.Evidence{token},
			DestinationURL: dest.URL,
			Source:         dest.Source,
			Stage:          s.Name(),
		})
	}
	return nil
}
