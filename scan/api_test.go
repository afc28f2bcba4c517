package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/adscan/dbopen"
	"github.com/hazyhaar/adscan/patterns"
	"github.com/hazyhaar/adscan/sink"
)

func newTestService(t *testing.T) (*Service, *patterns.Registry) {
	t.Helper()
	s, reg := newTestScanner(nil, time.Millisecond)

	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(sink.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	svc := NewService(Service{
		Registry: reg,
		Scanner:  s,
		Store:    sink.NewStore(db),
	})
	return svc, reg
}

func serveRequest(t *testing.T, svc *Service, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	svc.RegisterHTTP(r)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAPIHealthz(t *testing.T) {
	svc, _ := newTestService(t)
	rec := serveRequest(t, svc, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAPIStats(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Scanner.ScanOnce(context.Background(), parseDoc(t, adPage))

	rec := serveRequest(t, svc, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pipeline.Runs != 1 {
		t.Errorf("pipeline runs = %d, want 1", resp.Pipeline.Runs)
	}
	if resp.Registry.Categories == 0 {
		t.Error("registry stats empty")
	}
	if resp.Session == 0 {
		t.Error("session counter empty after a reporting scan")
	}
}

func TestAPIPatternsFilterByCategory(t *testing.T) {
	svc, _ := newTestService(t)

	rec := serveRequest(t, svc, "/api/patterns?category=player")
	var resp map[string][]patterns.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || len(resp["player"]) == 0 {
		t.Fatalf("unexpected categories: %v", resp)
	}
}

func TestAPIDetections(t *testing.T) {
	svc, _ := newTestService(t)

	reports := svc.Scanner.ScanOnce(context.Background(), parseDoc(t, adPage))
	for _, r := range reports {
		if err := svc.Store.Report(context.Background(), r); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	rec := serveRequest(t, svc, "/api/detections?limit=10")
	var resp []sink.Detection
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != len(reports) {
		t.Fatalf("got %d detections, want %d", len(resp), len(reports))
	}
}

func TestScanURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(adPage))
	}))
	defer srv.Close()

	svc, _ := newTestService(t)
	reports, err := svc.ScanURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("ScanURL: %v", err)
	}
	if len(reports) == 0 {
		t.Fatal("no detections from fetched page")
	}

	// The one-shot pass must not consume the live session's dedup keys.
	if svc.Scanner.Session.Len() != 0 {
		t.Fatalf("live session polluted: %d keys", svc.Scanner.Session.Len())
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adscan.yaml")
	content := []byte(`
classify:
  threshold: 0.75
watch:
  debounce: 50ms
  visible_only: true
sinks:
  - type: webhook
    url: https://example.com/hook
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Classify.Threshold != 0.75 {
		t.Errorf("threshold = %v", cfg.Classify.Threshold)
	}
	if cfg.Watch.Debounce.Std() != 50*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
	if !cfg.Watch.VisibleOnly {
		t.Error("visible_only not parsed")
	}
	if cfg.Registry.MaxFailures != 5 || cfg.Registry.MinSuccessRate != 0.3 {
		t.Errorf("registry defaults not applied: %+v", cfg.Registry)
	}
	if cfg.Watch.ScanInterval.Std() != 2*time.Second {
		t.Errorf("scan interval default = %v", cfg.Watch.ScanInterval)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "webhook" {
		t.Errorf("sinks = %+v", cfg.Sinks)
	}
}
