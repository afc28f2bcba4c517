package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hazyhaar/adscan/dbopen"
	"github.com/hazyhaar/adscan/finding"
)

// Schema contains the DDL for detection persistence. One row per distinct
// (destination, source) pair; recurrences bump the counter instead of
// inserting duplicate rows.
const Schema = `
CREATE TABLE IF NOT EXISTS detections (
    id              TEXT NOT NULL,
    destination_url TEXT NOT NULL,
    ad_type         TEXT NOT NULL,
    source          TEXT NOT NULL,
    confidence      REAL NOT NULL,
    evidence        TEXT NOT NULL DEFAULT '[]',
    snippet         TEXT NOT NULL DEFAULT '',
    page_url        TEXT NOT NULL DEFAULT '',
    context_id      TEXT NOT NULL DEFAULT '',
    times_seen      INTEGER NOT NULL DEFAULT 1,
    first_seen      INTEGER NOT NULL,
    last_seen       INTEGER NOT NULL,
    UNIQUE (destination_url, source)
);
CREATE INDEX IF NOT EXISTS idx_detections_last_seen ON detections(last_seen DESC);
`

// Store persists reports to SQLite.
type Store struct {
	DB *sql.DB
}

// OpenStore opens (or creates) the detections database at path.
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

// NewStore wraps an already opened database. The caller must have applied
// Schema.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Report(ctx context.Context, rep finding.Report) error {
	evidence, err := json.Marshal(rep.Evidence)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = dbopen.Exec(ctx, s.DB, `
		INSERT INTO detections
			(id, destination_url, ad_type, source, confidence, evidence,
			 snippet, page_url, context_id, first_seen, last_seen)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(destination_url, source) DO UPDATE SET
			confidence=MAX(confidence, excluded.confidence),
			evidence=excluded.evidence,
			context_id=excluded.context_id,
			times_seen=times_seen+1,
			last_seen=excluded.last_seen`,
		rep.ID, rep.DestinationURL, string(rep.AdType), rep.Source,
		rep.Confidence, string(evidence), rep.Snippet, rep.PageURL,
		rep.ContextID, now, now)
	return err
}

func (s *Store) Close() error { return s.DB.Close() }

// Detection is one persisted detection row.
type Detection struct {
	finding.Report
	TimesSeen int   `json:"times_seen"`
	FirstSeen int64 `json:"first_seen"`
	LastSeen  int64 `json:"last_seen"`
}

// Recent returns the most recently seen detections, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, destination_url, ad_type, source, confidence, evidence,
		       snippet, page_url, context_id, times_seen, first_seen, last_seen
		FROM detections
		ORDER BY last_seen DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var adType, evidence string
		if err := rows.Scan(&d.ID, &d.DestinationURL, &adType, &d.Source,
			&d.Confidence, &evidence, &d.Snippet, &d.PageURL, &d.ContextID,
			&d.TimesSeen, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}
		d.AdType = finding.AdType(adType)
		if err := json.Unmarshal([]byte(evidence), &d.Evidence); err != nil {
			return nil, err
		}
		d.Timestamp = d.LastSeen
		out = append(out, d)
	}
	return out, rows.Err()
}

// Count returns the number of distinct detections stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, err
}
