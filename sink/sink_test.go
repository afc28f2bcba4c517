package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/adscan/dbopen"
	"github.com/hazyhaar/adscan/finding"
)

func testReport() finding.Report {
	return finding.Report{
		ID:             "det_01",
		DestinationURL: "https://sketchy-deals.xyz",
		AdType:         finding.TypeDisplay,
		Source:         "aria-label",
		Confidence:     0.7,
		Evidence:       finding.Evidence{"content:aria-label-domain"},
		PageURL:        "https://example.com/watch",
		Timestamp:      time.Now().UnixMilli(),
		ContextID:      "scan_01",
	}
}

func TestStdoutWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)

	if err := s.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("Report: %v", err)
	}

	var env struct {
		Type string         `json:"type"`
		Data finding.Report `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("output is not one JSON line: %v", err)
	}
	if env.Type != "detection" || env.Data.DestinationURL != "https://sketchy-deals.xyz" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

type failingSink struct{ err error }

func (f failingSink) Report(context.Context, finding.Report) error { return f.err }
func (f failingSink) Close() error                                 { return nil }

func TestRouterDeliversPastFailure(t *testing.T) {
	var delivered int
	cb := NewCallback(func(context.Context, finding.Report) error {
		delivered++
		return nil
	})
	boom := errors.New("backend down")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := NewRouter(logger, failingSink{err: boom}, cb)
	err := r.Report(context.Background(), testReport())

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want first sink's error", err)
	}
	if delivered != 1 {
		t.Fatalf("second sink delivered %d times, want 1", delivered)
	}
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWebhook(srv.URL,
		WithWebhookRetries(2),
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(logger))

	if err := w.Report(context.Background(), testReport()); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("server saw %d calls, want 2", calls.Load())
	}
}

func TestWebhookExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWebhook(srv.URL,
		WithWebhookRetries(1),
		WithWebhookBackoff(time.Millisecond),
		WithWebhookLogger(logger))

	if err := w.Report(context.Background(), testReport()); err == nil {
		t.Fatal("want error after exhausted retries")
	}
}

func testDetectionStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return NewStore(db)
}

func TestStoreUpsertsRecurrence(t *testing.T) {
	s := testDetectionStore(t)
	ctx := context.Background()

	rep := testReport()
	if err := s.Report(ctx, rep); err != nil {
		t.Fatalf("first Report: %v", err)
	}

	rep.ID = "det_02"
	rep.ContextID = "scan_02"
	rep.Confidence = 0.65
	if err := s.Report(ctx, rep); err != nil {
		t.Fatalf("second Report: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("distinct detections = %d, want 1", n)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Recent returned %d rows, want 1", len(recent))
	}
	d := recent[0]
	if d.TimesSeen != 2 {
		t.Errorf("times seen = %d, want 2", d.TimesSeen)
	}
	if d.Confidence != 0.7 {
		t.Errorf("confidence = %v, want the higher of the two kept", d.Confidence)
	}
	if d.ContextID != "scan_02" {
		t.Errorf("context id = %q, want the latest run's", d.ContextID)
	}
	if len(d.Evidence) != 1 || d.Evidence[0] != "content:aria-label-domain" {
		t.Errorf("evidence round-trip broken: %v", d.Evidence)
	}
}

func TestStoreDistinctSourcesAreSeparateRows(t *testing.T) {
	s := testDetectionStore(t)
	ctx := context.Background()

	rep := testReport()
	if err := s.Report(ctx, rep); err != nil {
		t.Fatalf("Report: %v", err)
	}
	rep.Source = "link"
	if err := s.Report(ctx, rep); err != nil {
		t.Fatalf("Report: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("distinct detections = %d, want 2", n)
	}
}
