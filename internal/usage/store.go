// Package usage keeps an append-only audit log of tool invocations.
// Records are indexed by timestamp, turn and tool so the stats endpoint
// can aggregate them cheaply.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one executed (or rejected) tool call.
type Record struct {
	ID         string
	Timestamp  time.Time
	TurnID     string
	ThreadID   string
	CallID     string
	Tool       string
	Status     string // observe.StatusOK, StatusError, ...
	ErrorKind  string // tools.ErrorKind for failed calls
	DurationMs int64
}

// Summary holds aggregated totals.
type Summary struct {
	TotalCalls      int   `json:"total_calls"`
	Errors          int   `json:"errors"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// Store is an append-only SQLite store for tool call records. Safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_calls (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		turn_id     TEXT NOT NULL,
		thread_id   TEXT,
		call_id     TEXT,
		tool        TEXT NOT NULL,
		status      TEXT NOT NULL,
		error_kind  TEXT,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_timestamp ON tool_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_turn ON tool_calls(turn_id);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists rec. An empty ID gets a UUIDv7 and a zero Timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls
			(id, timestamp, turn_id, thread_id, call_id, tool, status, error_kind, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.TurnID,
		rec.ThreadID,
		rec.CallID,
		rec.Tool,
		rec.Status,
		rec.ErrorKind,
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'ok' THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalCalls, &sum.Errors, &sum.TotalDurationMs); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByTool returns per-tool totals for records within [start, end).
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "tool", start, end)
}

// SummaryByStatus returns per-status totals for records within [start, end).
func (s *Store) SummaryByStatus(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "status", start, end)
}

// TurnRecords returns the records of one turn in insertion order.
func (s *Store) TurnRecords(ctx context.Context, turnID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, turn_id, COALESCE(thread_id, ''), COALESCE(call_id, ''),
		        tool, status, COALESCE(error_kind, ''), duration_ms
		 FROM tool_calls
		 WHERE turn_id = ?
		 ORDER BY id`,
		turnID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turn records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.TurnID, &rec.ThreadID, &rec.CallID,
			&rec.Tool, &rec.Status, &rec.ErrorKind, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("scan turn record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column only ever comes from the methods above.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'ok' THEN 0 ELSE 1 END), 0),
		        COALESCE(SUM(duration_ms), 0)
		 FROM tool_calls
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s
		 ORDER BY COUNT(*) DESC`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalCalls, &sum.Errors, &sum.TotalDurationMs); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
