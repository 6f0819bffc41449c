// Package taskstore is the durable ledger of terminal task results and
// worker lifecycle events.
//
// The in-memory task registry stays the source of truth for live waits; the
// store is a write-behind sink subscribed to orchestrator notifications so
// the history survives restarts. WAL is enabled so the CLI can read history
// while the agent writes.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return err
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS task_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id TEXT NOT NULL UNIQUE,
  worker_id TEXT NOT NULL,
  worker_name TEXT NOT NULL DEFAULT '',
  success INTEGER NOT NULL,
  result_text TEXT NOT NULL DEFAULT '',
  completed_at_unix_ms INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_task_results_completed
  ON task_results (completed_at_unix_ms DESC);

CREATE TABLE IF NOT EXISTS worker_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  worker_id TEXT NOT NULL,
  worker_name TEXT NOT NULL DEFAULT '',
  kind TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_worker_events_worker
  ON worker_events (worker_id, created_at_unix_ms DESC);
`)
	return err
}

// ResultRow mirrors one terminal task result.
type ResultRow struct {
	TaskID          string        `json:"task_id"`
	WorkerID        string        `json:"worker_id"`
	WorkerName      string        `json:"worker_name"`
	Success         bool          `json:"success"`
	ResultText      string        `json:"result_text"`
	CompletedAtUnix int64         `json:"completed_at_unix_ms"`
	Duration        time.Duration `json:"-"`
}

// RecordResult appends a terminal result. Idempotent on task id: results are
// written exactly once upstream, so a duplicate insert is silently ignored.
func (s *Store) RecordResult(ctx context.Context, row ResultRow) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	taskID := strings.TrimSpace(row.TaskID)
	if taskID == "" {
		return errors.New("missing task_id")
	}
	if row.CompletedAtUnix <= 0 {
		row.CompletedAtUnix = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO task_results
  (task_id, worker_id, worker_name, success, result_text, completed_at_unix_ms, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, taskID, strings.TrimSpace(row.WorkerID), row.WorkerName, boolToInt(row.Success), row.ResultText, row.CompletedAtUnix, row.Duration.Milliseconds())
	return err
}

func (s *Store) GetResult(ctx context.Context, taskID string) (ResultRow, bool, error) {
	if s == nil || s.db == nil {
		return ResultRow{}, false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return ResultRow{}, false, errors.New("missing task_id")
	}
	var (
		row        ResultRow
		success    int64
		durationMS int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT task_id, worker_id, worker_name, success, result_text, completed_at_unix_ms, duration_ms
FROM task_results WHERE task_id = ?
`, taskID).Scan(&row.TaskID, &row.WorkerID, &row.WorkerName, &success, &row.ResultText, &row.CompletedAtUnix, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return ResultRow{}, false, nil
	}
	if err != nil {
		return ResultRow{}, false, err
	}
	row.Success = success != 0
	row.Duration = time.Duration(durationMS) * time.Millisecond
	return row, true, nil
}

// ListResults returns the most recent results, newest first. beforeUnixMs
// pages further back when positive.
func (s *Store) ListResults(ctx context.Context, limit int, beforeUnixMs int64) ([]ResultRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	where := ""
	args := []any{}
	if beforeUnixMs > 0 {
		where = "WHERE completed_at_unix_ms < ?"
		args = append(args, beforeUnixMs)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT task_id, worker_id, worker_name, success, result_text, completed_at_unix_ms, duration_ms
FROM task_results
%s
ORDER BY completed_at_unix_ms DESC, id DESC
LIMIT ?
`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ResultRow, 0, limit)
	for rows.Next() {
		var (
			row        ResultRow
			success    int64
			durationMS int64
		)
		if err := rows.Scan(&row.TaskID, &row.WorkerID, &row.WorkerName, &success, &row.ResultText, &row.CompletedAtUnix, &durationMS); err != nil {
			return nil, err
		}
		row.Success = success != 0
		row.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, row)
	}
	return out, rows.Err()
}

// WorkerEventRow is one lifecycle transition (created / status / terminated).
type WorkerEventRow struct {
	WorkerID      string `json:"worker_id"`
	WorkerName    string `json:"worker_name"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	CreatedAtUnix int64  `json:"created_at_unix_ms"`
}

func (s *Store) RecordWorkerEvent(ctx context.Context, row WorkerEventRow) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(row.WorkerID) == "" || strings.TrimSpace(row.Kind) == "" {
		return errors.New("missing worker_id or kind")
	}
	if row.CreatedAtUnix <= 0 {
		row.CreatedAtUnix = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO worker_events (worker_id, worker_name, kind, status, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?)
`, strings.TrimSpace(row.WorkerID), row.WorkerName, strings.TrimSpace(row.Kind), row.Status, row.CreatedAtUnix)
	return err
}

func (s *Store) ListWorkerEvents(ctx context.Context, workerID string, limit int) ([]WorkerEventRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, errors.New("missing worker_id")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT worker_id, worker_name, kind, status, created_at_unix_ms
FROM worker_events
WHERE worker_id = ?
ORDER BY created_at_unix_ms DESC, id DESC
LIMIT ?
`, workerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]WorkerEventRow, 0, limit)
	for rows.Next() {
		var row WorkerEventRow
		if err := rows.Scan(&row.WorkerID, &row.WorkerName, &row.Kind, &row.Status, &row.CreatedAtUnix); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
