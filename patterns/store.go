package patterns

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/adscan/dbopen"
)

// Schema contains the DDL for pattern-health persistence. A scanner that
// restarts keeps its learned catalog instead of relearning which patterns a
// site has broken.
const Schema = `
CREATE TABLE IF NOT EXISTS pattern_health (
    category       TEXT NOT NULL,
    pattern        TEXT NOT NULL,
    priority       INTEGER NOT NULL DEFAULT 10,
    success_rate   REAL NOT NULL DEFAULT 0.5,
    failure_count  INTEGER NOT NULL DEFAULT 0,
    last_success   INTEGER NOT NULL DEFAULT 0,
    updated_at     INTEGER NOT NULL,
    PRIMARY KEY (category, pattern)
);
CREATE INDEX IF NOT EXISTS idx_pattern_health_cat ON pattern_health(category);
`

// Store persists registry health to SQLite.
type Store struct {
	DB *sql.DB
}

// OpenStore opens (or creates) the pattern-health database at path.
func OpenStore(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Save upserts the full registry state.
func (s *Store) Save(ctx context.Context, r *Registry) error {
	now := time.Now().UnixMilli()
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for category, entries := range r.Entries("") {
			for _, e := range entries {
				var last int64
				if !e.LastSuccess.IsZero() {
					last = e.LastSuccess.UnixMilli()
				}
				_, err := tx.ExecContext(ctx, `
					INSERT INTO pattern_health
						(category, pattern, priority, success_rate, failure_count, last_success, updated_at)
					VALUES (?,?,?,?,?,?,?)
					ON CONFLICT(category, pattern) DO UPDATE SET
						priority=excluded.priority,
						success_rate=excluded.success_rate,
						failure_count=excluded.failure_count,
						last_success=excluded.last_success,
						updated_at=excluded.updated_at`,
					category, e.Pattern, e.Priority, e.SuccessRate, e.FailureCount, last, now)
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Load restores persisted health into the registry. Patterns not yet present
// are inserted first (with their stored priority), then health is applied, so
// a load after UpdateFromConfig keeps remote catalog additions intact.
func (s *Store) Load(ctx context.Context, r *Registry) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT category, pattern, priority, success_rate, failure_count, last_success
		FROM pattern_health`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var category, pattern string
		var priority, failureCount int
		var successRate float64
		var last int64
		if err := rows.Scan(&category, &pattern, &priority, &successRate, &failureCount, &last); err != nil {
			return err
		}
		r.AddPattern(category, pattern, priority)
		var lastSuccess time.Time
		if last > 0 {
			lastSuccess = time.UnixMilli(last)
		}
		r.setHealth(category, pattern, successRate, failureCount, lastSuccess)
	}
	return rows.Err()
}
