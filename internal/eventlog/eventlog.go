// Package eventlog persists detection results to SQLite for later review.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"skysweep/internal/pipeline"
)

// Store handles SQLite persistence of frame results.
type Store struct {
	db *sql.DB
}

// ResultRecord is one processed frame as stored.
type ResultRecord struct {
	ID         string
	FrameSeq   uint64
	Timestamp  time.Time
	LatencyMs  float64
	OverBudget bool
	Boxes      []BoxRecord
}

// BoxRecord is a detection within a stored result.
type BoxRecord struct {
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Area       int     `json:"area"`
}

// Open creates a store backed by the SQLite file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// WAL mode for concurrent reads while the recorder writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if missing.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS detection_results (
			id TEXT PRIMARY KEY,
			frame_seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			latency_ms REAL,
			over_budget INTEGER DEFAULT 0,
			boxes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_time ON detection_results(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_results_seq ON detection_results(frame_seq)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}
	return nil
}

// SaveResult stores one frame result. Frames with no detections are stored
// too so gaps in the log are distinguishable from downtime.
func (s *Store) SaveResult(r *pipeline.FrameResult) error {
	boxes := make([]BoxRecord, 0, r.Detections.Len())
	for _, d := range r.Detections.Detections {
		boxes = append(boxes, BoxRecord{
			Kind:       string(d.Kind),
			Confidence: d.Confidence,
			X:          d.Box.Min.X,
			Y:          d.Box.Min.Y,
			Width:      d.Box.Dx(),
			Height:     d.Box.Dy(),
			Area:       d.Area,
		})
	}
	boxJSON, err := json.Marshal(boxes)
	if err != nil {
		return errors.Wrap(err, "marshal boxes")
	}

	overBudget := 0
	if r.OverBudget {
		overBudget = 1
	}

	query := `INSERT INTO detection_results (id, frame_seq, timestamp, latency_ms, over_budget, boxes)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, r.ID.String(), r.Seq, r.Timestamp,
		float64(r.Latency.Microseconds())/1000, overBudget, string(boxJSON))
	return errors.Wrap(err, "save result")
}

// ListResults returns recent results, newest first.
func (s *Store) ListResults(since *time.Time, limit int) ([]*ResultRecord, error) {
	query := `SELECT id, frame_seq, timestamp, latency_ms, over_budget, boxes
		FROM detection_results WHERE 1=1`
	args := []interface{}{}

	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list results")
	}
	defer rows.Close()

	var records []*ResultRecord
	for rows.Next() {
		var rec ResultRecord
		var boxJSON string
		var overBudget int

		if err := rows.Scan(&rec.ID, &rec.FrameSeq, &rec.Timestamp,
			&rec.LatencyMs, &overBudget, &boxJSON); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}

		rec.OverBudget = overBudget == 1
		if boxJSON != "" {
			if err := json.Unmarshal([]byte(boxJSON), &rec.Boxes); err != nil {
				return nil, errors.Wrap(err, "unmarshal boxes")
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Prune deletes results older than before, returning the number removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM detection_results WHERE timestamp < ?", before)
	if err != nil {
		return 0, errors.Wrap(err, "prune results")
	}
	return result.RowsAffected()
}
