// Package indexdb keeps a sqlite ledger of copy and merge runs. The ledger
// is a secondary record; the world and staging files remain authoritative.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeCopy  Mode = "copy"
	ModeMerge Mode = "merge"
)

type Run struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	Worlds     []string  `json:"worlds"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Containers int  `json:"containers"`
	Matched    int  `json:"matched"`
	Orphaned   int  `json:"orphaned"`
	Malformed  int  `json:"malformed"`
	Migrated   int  `json:"migrated"`
	Remaining  int  `json:"remaining"`
	Saved      bool `json:"saved"`

	Labels []LabelRow `json:"labels,omitempty"`
}

type LabelRow struct {
	Label     string `json:"label"`
	Migrated  int    `json:"migrated"`
	Remaining int    `json:"remaining"`
	Completed bool   `json:"completed"`
}

// tsLayout sorts lexically in time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			worlds_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			containers INTEGER NOT NULL,
			matched INTEGER NOT NULL,
			orphaned INTEGER NOT NULL,
			malformed INTEGER NOT NULL,
			migrated INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			saved INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS run_labels (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			migrated INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			PRIMARY KEY (run_id, label)
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores r and its label rows in one transaction. An empty ID is
// replaced with a fresh uuid, which is returned.
func (s *SQLiteLedger) RecordRun(ctx context.Context, r Run) (string, error) {
	if s == nil {
		return "", nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	worlds, err := json.Marshal(r.Worlds)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id,mode,worlds_json,started_at,finished_at,containers,matched,orphaned,malformed,migrated,remaining,saved)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, string(r.Mode), string(worlds),
		r.StartedAt.UTC().Format(tsLayout), r.FinishedAt.UTC().Format(tsLayout),
		r.Containers, r.Matched, r.Orphaned, r.Malformed, r.Migrated, r.Remaining, boolInt(r.Saved),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_labels(run_id,label,migrated,remaining,completed) VALUES(?,?,?,?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, l := range r.Labels {
		if _, err := stmt.ExecContext(ctx, r.ID, l.Label, l.Migrated, l.Remaining, boolInt(l.Completed)); err != nil {
			return "", fmt.Errorf("insert run label %s: %w", l.Label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return r.ID, nil
}

// Runs returns the most recent runs, newest first, with their label rows.
func (s *SQLiteLedger) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id,mode,worlds_json,started_at,finished_at,containers,matched,orphaned,malformed,migrated,remaining,saved
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	byID := map[string]int{}
	for rows.Next() {
		var (
			r                 Run
			mode, worlds      string
			started, finished string
			saved             int
		)
		if err := rows.Scan(&r.ID, &mode, &worlds, &started, &finished,
			&r.Containers, &r.Matched, &r.Orphaned, &r.Malformed, &r.Migrated, &r.Remaining, &saved); err != nil {
			return nil, err
		}
		r.Mode = Mode(mode)
		r.Saved = saved != 0
		if err := json.Unmarshal([]byte(worlds), &r.Worlds); err != nil {
			return nil, fmt.Errorf("run %s worlds: %w", r.ID, err)
		}
		r.StartedAt, _ = time.Parse(tsLayout, started)
		r.FinishedAt, _ = time.Parse(tsLayout, finished)
		byID[r.ID] = len(out)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, i := range byID {
		labels, err := s.labels(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i].Labels = labels
	}
	return out, nil
}

func (s *SQLiteLedger) labels(ctx context.Context, runID string) ([]LabelRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label,migrated,remaining,completed FROM run_labels WHERE run_id=?`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LabelRow
	for rows.Next() {
		var (
			l         LabelRow
			completed int
		)
		if err := rows.Scan(&l.Label, &l.Migrated, &l.Remaining, &completed); err != nil {
			return nil, err
		}
		l.Completed = completed != 0
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
