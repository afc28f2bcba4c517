package patterns

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReloadOptions tunes the health reload loop.
type ReloadOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change is detected before the
	// reload fires. More changes during the window reset the timer.
	// 0 means reload immediately.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *ReloadOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Reloader keeps a Registry in sync with the pattern_health table. A catalog
// curation job (or a second scanner sharing the database) that writes health
// rows becomes visible to this process without a restart.
type Reloader struct {
	store *Store
	reg   *Registry
	opts  ReloadOptions

	// version is the last MAX(updated_at) applied to the registry.
	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errs    atomic.Int64
	reloads atomic.Int64
}

// ReloadStats are point-in-time counters.
type ReloadStats struct {
	Checks          int64 `json:"checks"`
	ChangesDetected int64 `json:"changes_detected"`
	Errors          int64 `json:"errors"`
	Reloads         int64 `json:"reloads"`
}

// NewReloader creates a Reloader. Call Run to start the loop.
func NewReloader(store *Store, reg *Registry, opts ReloadOptions) *Reloader {
	opts.defaults()
	return &Reloader{store: store, reg: reg, opts: opts}
}

// Stats returns the current counters.
func (r *Reloader) Stats() ReloadStats {
	return ReloadStats{
		Checks:          r.checks.Load(),
		ChangesDetected: r.changes.Load(),
		Errors:          r.errs.Load(),
		Reloads:         r.reloads.Load(),
	}
}

// Run blocks until ctx is cancelled, polling at opts.Interval. When the
// table's MAX(updated_at) advances and the debounce window passes without
// further writes, the registry is reloaded from the store.
//
// A failed reload does NOT advance the version, so it is retried on the
// next poll cycle.
func (r *Reloader) Run(ctx context.Context) {
	log := r.opts.Logger

	if v, err := healthVersion(ctx, r.store.DB); err != nil {
		log.Warn("patterns: initial health version check failed", "error", err)
	} else {
		r.version.Store(v)
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			r.checks.Add(1)
			cur, err := healthVersion(ctx, r.store.DB)
			if err != nil {
				r.errs.Add(1)
				log.Warn("patterns: health version check failed", "error", err)
				continue
			}
			if cur != r.version.Load() && cur != pending {
				r.changes.Add(1)
				pending = cur

				if r.opts.Debounce <= 0 {
					r.fire(ctx, pending)
					pending = -1
				} else {
					if debounceTimer != nil {
						debounceTimer.Stop()
					}
					debounceTimer = time.NewTimer(r.opts.Debounce)
					debounceCh = debounceTimer.C
				}
			}

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				r.fire(ctx, pending)
				pending = -1
			}
		}
	}
}

func (r *Reloader) fire(ctx context.Context, ver int64) {
	log := r.opts.Logger
	if err := r.store.Load(ctx, r.reg); err != nil {
		r.errs.Add(1)
		log.Error("patterns: health reload failed", "error", err, "version", ver)
		return
	}
	r.reloads.Add(1)
	r.version.Store(ver)
	log.Info("patterns: health reloaded", "version", ver)
}

// healthVersion reads MAX(updated_at) as the change token. Polling the table
// instead of PRAGMA data_version keeps this process's own detection writes
// (which share the database file) from triggering spurious reloads.
func healthVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(updated_at), 0) FROM pattern_health").Scan(&v)
	return v, err
}
