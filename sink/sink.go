// Package sink defines output backends for detection reports. Implementations
// deliver reports to different destinations (stdout, webhook, SQLite,
// in-process callback); the router fans one report out to all of them.
//
// Delivery is fire-and-forget from the scanner's point of view: a slow or
// failing sink must never stall scanning, so the scanner hands reports to
// sinks on a separate goroutine and sinks own their retry behaviour.
package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/adscan/finding"
)

// Sink is the output interface. One Report call = one detection that passed
// the confidence threshold and the session dedup.
type Sink interface {
	Report(ctx context.Context, rep finding.Report) error
	Close() error
}

// Stdout writes reports as JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Report(_ context.Context, rep finding.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "detection", Data: rep})
}

func (s *Stdout) Close() error { return nil }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
