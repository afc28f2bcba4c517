package sink

import (
	"context"

	"github.com/hazyhaar/adscan/finding"
)

// ReportFunc is called for each report (in-process, zero serialisation).
type ReportFunc func(ctx context.Context, rep finding.Report) error

// Callback delivers reports via Go function calls, for embedding the scanner
// in a host binary that consumes detections directly.
type Callback struct {
	onReport ReportFunc
}

// NewCallback creates a Callback sink. A nil handler drops reports.
func NewCallback(onReport ReportFunc) *Callback {
	return &Callback{onReport: onReport}
}

func (c *Callback) Report(ctx context.Context, rep finding.Report) error {
	if c.onReport != nil {
		return c.onReport(ctx, rep)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
