package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/adscan/classify"
	"github.com/hazyhaar/adscan/dedup"
	"github.com/hazyhaar/adscan/dom/htmldom"
	"github.com/hazyhaar/adscan/extractor"
	"github.com/hazyhaar/adscan/finding"
	"github.com/hazyhaar/adscan/patterns"
	"github.com/hazyhaar/adscan/pipeline"
	"github.com/hazyhaar/adscan/sink"
)

// maxFetchBytes bounds how much of a remote page the one-shot scan reads.
const maxFetchBytes = 4 << 20

// Service exposes read-only diagnostics and one-shot scans over HTTP and
// MCP. It reads shared state the running Watcher mutates; nothing here
// writes to the registry except through a scan.
type Service struct {
	Registry *patterns.Registry
	Scanner  *Scanner
	Watcher  *Watcher    // optional
	Store    *sink.Store // optional
	Logger   *slog.Logger

	httpClient *http.Client
}

// NewService wires a Service.
func NewService(s Service) *Service {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	s.httpClient = &http.Client{Timeout: 15 * time.Second}
	return &s
}

// RegisterHTTP registers the status endpoints on a chi router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealthz)
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/patterns", s.handlePatterns)
	r.Get("/api/detections", s.handleDetections)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

// StatsResponse is the /api/stats and adscan_stats payload.
type StatsResponse struct {
	Registry  patterns.Stats `json:"registry"`
	Pipeline  pipeline.Stats `json:"pipeline"`
	CacheSize int            `json:"cache_size"`
	Session   int            `json:"session_reported"`
	Degraded  bool           `json:"degraded"`
}

func (s *Service) stats() StatsResponse {
	resp := StatsResponse{
		Registry:  s.Registry.Stats(),
		Pipeline:  s.Scanner.Pipeline.Stats(),
		CacheSize: s.Scanner.Classifier.CacheSize(),
		Session:   s.Scanner.Session.Len(),
	}
	if s.Watcher != nil {
		resp.Degraded = s.Watcher.Degraded()
	}
	return resp
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.stats())
}

func (s *Service) handlePatterns(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	s.respondJSON(w, s.Registry.Entries(category))
}

func (s *Service) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "detection store not configured", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recent, err := s.Store.Recent(r.Context(), limit)
	if err != nil {
		s.Logger.Error("api: query detections", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, recent)
}

func (s *Service) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("api: encode response", "error", err)
	}
}

// ScanURL fetches a page and runs a one-shot detection pass against its
// static HTML. The pass shares the live registry (health feedback included)
// but uses its own pipeline, classifier, and session so it neither trips the
// running watcher's throttle nor consumes its dedup keys.
func (s *Service) ScanURL(ctx context.Context, pageURL string) ([]finding.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("scan: build request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan: fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scan: fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("scan: read body: %w", err)
	}

	doc, err := htmldom.Parse(string(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("scan: parse: %w", err)
	}

	ext := extractor.New()
	oneShot := NewScanner(Scanner{
		Pipeline: pipeline.New(pipeline.Config{
			Stages: []pipeline.Stage{
				pipeline.StateStage{},
				pipeline.PatternStage{Registry: s.Registry},
				pipeline.HeuristicStage{},
				pipeline.ContentStage{Extractor: ext},
			},
			Logger: s.Logger,
		}),
		Classifier: classify.New(classify.Config{Logger: s.Logger}),
		Extractor:  ext,
		Session:    dedup.New(),
		Threshold:  s.Scanner.Threshold,
		Logger:     s.Logger,
	})
	return oneShot.ScanOnce(ctx, doc), nil
}
