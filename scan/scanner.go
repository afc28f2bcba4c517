// Package scan orchestrates continuous ad detection over a live document:
// change-driven triggering with debounce, periodic full rescans, pipeline
// execution, classification, threshold filtering, session dedup, and
// delivery to sinks.
package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/adscan/classify"
	"github.com/hazyhaar/adscan/dedup"
	"github.com/hazyhaar/adscan/dom"
	"github.com/hazyhaar/adscan/extractor"
	"github.com/hazyhaar/adscan/finding"
	"github.com/hazyhaar/adscan/idgen"
	"github.com/hazyhaar/adscan/pipeline"
	"github.com/hazyhaar/adscan/sink"
)

// Scanner runs one full detection pass: pipeline, classifier, threshold
// filter, session dedup, sinks. It holds no goroutines itself; the Watcher
// decides when a pass runs.
type Scanner struct {
	Pipeline   *pipeline.Pipeline
	Classifier *classify.Classifier
	Extractor  *extractor.Extractor
	Session    *dedup.Session
	Sink       sink.Sink
	Threshold  float64
	Logger     *slog.Logger
	NewID      idgen.Generator
}

// NewScanner wires a Scanner with defaults for everything left nil.
func NewScanner(s Scanner) *Scanner {
	if s.Classifier == nil {
		s.Classifier = classify.New(classify.Config{})
	}
	if s.Extractor == nil {
		s.Extractor = extractor.New()
	}
	if s.Session == nil {
		s.Session = dedup.New()
	}
	if s.Threshold <= 0 {
		s.Threshold = classify.Threshold
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.NewID == nil {
		s.NewID = idgen.Prefixed("det_", idgen.Default)
	}
	return &s
}

// ScanOnce runs one detection pass against the document and returns the
// reports that passed the threshold and the session dedup. Sink delivery
// happens on a separate goroutine: a slow sink never stalls scanning.
func (s *Scanner) ScanOnce(ctx context.Context, doc dom.Document) []finding.Report {
	res := s.Pipeline.Run(doc)
	if res.Throttled {
		return nil
	}

	var reports []finding.Report
	for _, cand := range res.Candidates {
		f := s.Classifier.Classify(cand.Node, cand.Evidence)
		if f.Confidence < s.Threshold {
			continue
		}
		if cand.DestinationURL == "" {
			// A confident detection with no destination is still worth
			// reporting once per page.
			cand.DestinationURL = doc.URL()
			cand.Source = "page"
		}
		if !s.Session.ShouldReport(cand.DestinationURL, cand.Source) {
			continue
		}
		reports = append(reports, finding.Report{
			ID:             s.NewID(),
			DestinationURL: cand.DestinationURL,
			AdType:         f.Type,
			Source:         cand.Source,
			Confidence:     f.Confidence,
			Evidence:       f.Evidence,
			PageURL:        doc.URL(),
			Timestamp:      time.Now().UnixMilli(),
			ContextID:      res.ContextID,
		})
	}

	if len(reports) > 0 && s.Sink != nil {
		go s.deliver(ctx, reports)
	}
	return reports
}

func (s *Scanner) deliver(ctx context.Context, reports []finding.Report) {
	for _, rep := range reports {
		if err := s.Sink.Report(ctx, rep); err != nil {
			s.Logger.Warn("scan: report delivery failed",
				"id", rep.ID, "error", err)
		}
	}
}
