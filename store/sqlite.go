package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"quant/backtest"
)

// ResultRecord is what a result sink persists for one finished task.
type ResultRecord struct {
	TaskID    string           `json:"task_id"`
	Kind      Kind             `json:"kind"`
	Symbol    string           `json:"symbol"`
	Strategy  string           `json:"strategy"`
	Metrics   backtest.Metrics `json:"metrics"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ResultSink accepts finished results. Callers do not wait on it.
type ResultSink interface {
	Put(ctx context.Context, rec ResultRecord) error
}

var _ ResultSink = (*SQLiteResultStore)(nil)

// SQLiteResultStore keeps an archive of finished backtests.
type SQLiteResultStore struct {
	db *sql.DB
}

const resultSchema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	task_id      TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	total_return REAL NOT NULL,
	sharpe_ratio REAL NOT NULL,
	max_drawdown REAL NOT NULL,
	metrics      TEXT NOT NULL,
	payload      TEXT,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_results_created ON backtest_results(created_at);
`

// NewSQLiteResultStore opens (or creates) the database at dbPath.
func NewSQLiteResultStore(dbPath string) (*SQLiteResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(resultSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteResultStore{db: db}, nil
}

func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteResultStore) Put(ctx context.Context, rec ResultRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO backtest_results
	(task_id, kind, symbol, strategy, total_return, sharpe_ratio, max_drawdown, metrics, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, string(rec.Kind), rec.Symbol, rec.Strategy,
		rec.Metrics.TotalReturn, rec.Metrics.SharpeRatio, rec.Metrics.MaxDrawdown,
		string(metrics), nullableJSON(rec.Payload), rec.CreatedAt.UnixMilli(),
	)
	return err
}

// Recent returns the latest records without payloads, newest first.
func (s *SQLiteResultStore) Recent(ctx context.Context, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, kind, symbol, strategy, metrics, created_at
FROM backtest_results ORDER BY created_at DESC, task_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var (
			rec     ResultRecord
			kind    string
			metrics string
			created int64
		)
		if err := rows.Scan(&rec.TaskID, &kind, &rec.Symbol, &rec.Strategy, &metrics, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics for %s: %w", rec.TaskID, err)
		}
		rec.Kind = Kind(kind)
		rec.CreatedAt = time.UnixMilli(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Payload returns the stored result body of one task.
func (s *SQLiteResultStore) Payload(ctx context.Context, taskID string) (json.RawMessage, error) {
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM backtest_results WHERE task_id = ?`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload.String), nil
}

func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
