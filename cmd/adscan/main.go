// Command adscan is the ad-detection daemon.
//
// Usage:
//
//	adscan -config adscan.yaml -url https://example.com/watch   # watch a live page
//	adscan -scan https://example.com/watch                      # one-shot scan, print findings
//	adscan -http :8087                                          # serve the HTTP API
//	adscan -mcp                                                 # serve MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/adscan/classify"
	"github.com/hazyhaar/adscan/dbopen"
	"github.com/hazyhaar/adscan/dom/roddom"
	"github.com/hazyhaar/adscan/extractor"
	"github.com/hazyhaar/adscan/patterns"
	"github.com/hazyhaar/adscan/pipeline"
	"github.com/hazyhaar/adscan/scan"
	"github.com/hazyhaar/adscan/sink"
)

func main() {
	configPath := flag.String("config", "", "path to adscan.yaml config file")
	watchURL := flag.String("url", "", "watch a live page in Chrome")
	scanURL := flag.String("scan", "", "scan a single URL once and exit")
	httpAddr := flag.String("http", "", "serve the HTTP API on this address")
	mcpStdio := flag.Bool("mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *watchURL, *scanURL, *httpAddr, *mcpStdio); err != nil {
		logger.Error("adscan: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, watchURL, scanURL, httpAddr string, mcpStdio bool) error {
	cfg := scan.DefaultConfig()
	if configPath != "" {
		loaded, err := scan.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if watchURL == "" && scanURL == "" && httpAddr == "" && !mcpStdio {
		fmt.Fprintln(os.Stderr, "usage: adscan [-config <file>] -url <url> | -scan <url> | -http <addr> | -mcp")
		os.Exit(1)
	}

	reg := patterns.New(patterns.Config{
		MaxFailures:    cfg.Registry.MaxFailures,
		MinSuccessRate: cfg.Registry.MinSuccessRate,
		Logger:         logger,
	})
	catalog := patterns.DefaultCatalog()
	if cfg.Catalog != "" {
		loaded, err := patterns.LoadCatalogFile(cfg.Catalog)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		catalog = loaded
	}
	reg.LoadCatalog(catalog)

	// One SQLite file carries both pattern health and detections.
	var (
		health   *patterns.Store
		detStore *sink.Store
	)
	if cfg.Database != "" {
		db, err := dbopen.Open(cfg.Database,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(patterns.Schema),
			dbopen.WithSchema(sink.Schema),
		)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		health = &patterns.Store{DB: db}
		detStore = sink.NewStore(db)
		if err := health.Load(ctx, reg); err != nil {
			logger.Warn("adscan: pattern health load failed", "error", err)
		}
		defer func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := health.Save(saveCtx, reg); err != nil {
				logger.Warn("adscan: pattern health save failed", "error", err)
			}
		}()
	}

	out, err := buildSinks(cfg, logger, detStore)
	if err != nil {
		return err
	}
	defer out.Close()

	ext := extractor.New()
	scanner := scan.NewScanner(scan.Scanner{
		Pipeline: pipeline.New(pipeline.Config{
			Stages: []pipeline.Stage{
				pipeline.StateStage{},
				pipeline.PatternStage{Registry: reg},
				pipeline.HeuristicStage{},
				pipeline.ContentStage{Extractor: ext},
			},
			Logger: logger,
		}),
		Classifier: classify.New(classify.Config{
			CacheTTL: cfg.Classify.CacheTTL.Std(),
			Logger:   logger,
		}),
		Extractor: ext,
		Sink:      out,
		Threshold: cfg.Classify.Threshold,
		Logger:    logger,
	})

	svc := scan.NewService(scan.Service{
		Registry: reg,
		Scanner:  scanner,
		Store:    detStore,
		Logger:   logger,
	})

	if scanURL != "" {
		reports, err := svc.ScanURL(ctx, scanURL)
		if err != nil {
			return fmt.Errorf("scan %s: %w", scanURL, err)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, rep := range reports {
			if err := enc.Encode(rep); err != nil {
				return err
			}
		}
		return nil
	}

	// Health rows written by another process sharing the database (a catalog
	// curation job, a second scanner) get picked up without a restart.
	if health != nil {
		rl := patterns.NewReloader(health, reg, patterns.ReloadOptions{
			Debounce: 500 * time.Millisecond,
			Logger:   logger,
		})
		go rl.Run(ctx)
	}

	var watcher *scan.Watcher
	if watchURL != "" {
		mgr := roddom.NewManager(roddom.ManagerConfig{Stealth: true, Logger: logger})
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer mgr.Close()

		doc, err := mgr.Open(ctx, watchURL)
		if err != nil {
			return fmt.Errorf("open %s: %w", watchURL, err)
		}

		watcher = scan.NewWatcher(cfg.Watch, scan.WatcherDeps{
			Scanner:    scanner,
			Registry:   reg,
			Doc:        doc,
			Changes:    roddom.NewChangeFeed(doc),
			Visibility: roddom.NewVisibilityFeed(doc),
			Logger:     logger,
		})
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer watcher.Stop()
		svc.Watcher = watcher
		logger.Info("adscan: watching", "url", watchURL)
	}

	if httpAddr != "" {
		r := chi.NewRouter()
		svc.RegisterHTTP(r)
		srv := &http.Server{Addr: httpAddr, Handler: r}
		go func() {
			logger.Info("adscan: http listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("adscan: http server", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "adscan", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		return mcpSrv.Run(ctx, &mcp.StdioTransport{})
	}

	<-ctx.Done()
	return nil
}

func buildSinks(cfg *scan.Config, logger *slog.Logger, detStore *sink.Store) (sink.Sink, error) {
	var sinks []sink.Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, sink.NewStdout(nil))
		case "webhook":
			sinks = append(sinks, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(logger)))
		case "sqlite":
			if sc.Path == "" && detStore != nil {
				// Shared database: the store's lifetime belongs to run,
				// not to the sink router.
				sinks = append(sinks, sink.NewCallback(detStore.Report))
				continue
			}
			st, err := sink.OpenStore(sc.Path)
			if err != nil {
				return nil, fmt.Errorf("open sqlite sink: %w", err)
			}
			sinks = append(sinks, st)
		default:
			logger.Warn("adscan: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.NewStdout(nil))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.NewRouter(logger, sinks...), nil
}
