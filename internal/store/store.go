// Package store persists per-run tagging history in a SQLite database
// inside the app data directory.
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	path       TEXT NOT NULL,
	platforms  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS statuses (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL REFERENCES runs(run_id),
	file      TEXT NOT NULL,
	platform  TEXT,
	state     TEXT NOT NULL,
	accuracy  REAL,
	message   TEXT,
	logged_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_statuses_run ON statuses(run_id);
CREATE INDEX IF NOT EXISTS idx_statuses_file ON statuses(file);
`

// Store is the tagging-history database
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the history database. An empty path places
// it in the app data directory.
func Open(path string) (*Store, error) {
	if path == "" {
		dir, err := util.DataFolder()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "history.db")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a run's start
func (s *Store) BeginRun(runID, path, platforms string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, started_at, path, platforms) VALUES (?, ?, ?, ?)`,
		runID, time.Now().Unix(), path, platforms)
	return err
}

// RecordStatus appends one file status to the run history
func (s *Store) RecordStatus(runID string, status tagger.TaggingStatus) error {
	var accuracy interface{}
	if status.Accuracy != nil {
		accuracy = *status.Accuracy
	}
	_, err := s.db.Exec(
		`INSERT INTO statuses (run_id, file, platform, state, accuracy, message, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, status.FilePath, status.UsedPlatform, string(status.State),
		accuracy, status.Message, time.Now().Unix())
	return err
}

// RunSummary aggregates one run's terminal states
type RunSummary struct {
	Ok      int
	NoMatch int
	Skipped int
	Errors  int
}

// Summarize counts the run's statuses by state
func (s *Store) Summarize(runID string) (*RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT state, COUNT(*) FROM statuses WHERE run_id = ? GROUP BY state`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &RunSummary{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		switch tagger.TaggingState(state) {
		case tagger.StateOk:
			summary.Ok = count
		case tagger.StateNoMatch:
			summary.NoMatch = count
		case tagger.StateSkipped:
			summary.Skipped = count
		case tagger.StateError:
			summary.Errors = count
		}
	}
	return summary, rows.Err()
}

// LastMatch returns the most recent Ok status for a file, if any
func (s *Store) LastMatch(file string) (platform string, accuracy float64, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT platform, COALESCE(accuracy, 0) FROM statuses
		 WHERE file = ? AND state = ? ORDER BY logged_at DESC LIMIT 1`,
		file, string(tagger.StateOk))
	err = row.Scan(&platform, &accuracy)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return platform, accuracy, true, nil
}
