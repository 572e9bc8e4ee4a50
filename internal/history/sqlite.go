// Package history keeps a ledger of investigation runs and the tool calls
// made during them and during chat sessions.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RunStatus is the lifecycle state of an investigation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("history: run not found")

// Run is one autonomous investigation.
type Run struct {
	ID         string       `json:"id"`
	LogSetID   string       `json:"logSetId"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Iterations int          `json:"iterations"`
	Summary    string       `json:"summary,omitempty"`
	TicketIDs  []string     `json:"ticketIds"`
	Tools      []ToolRecord `json:"tools,omitempty"`
}

// ToolRecord is one executed tool call. RunID holds either an investigation
// run ID or a chat session ID.
type ToolRecord struct {
	ID         string         `json:"id"`
	RunID      string         `json:"runId"`
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executedAt"`
}

// Filter constrains run list queries.
type Filter struct {
	LogSetID string
	Status   RunStatus
	Limit    int // 0 = no limit
}

// SQLiteStore records runs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			log_set_id  TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'running',
			started_at  TEXT NOT NULL,
			finished_at TEXT,
			iterations  INTEGER NOT NULL DEFAULT 0,
			summary     TEXT NOT NULL DEFAULT '',
			ticket_ids  TEXT NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS tool_executions (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			tool        TEXT NOT NULL,
			arguments   TEXT NOT NULL DEFAULT '{}',
			error       TEXT NOT NULL DEFAULT '',
			executed_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tools_run ON tool_executions(run_id);
		CREATE INDEX IF NOT EXISTS idx_runs_log_set ON runs(log_set_id);
	`)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Start records a new running investigation and returns it.
func (s *SQLiteStore) Start(logSetID string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		LogSetID:  logSetID,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
		TicketIDs: []string{},
	}
	_, err := s.db.Exec(`INSERT INTO runs (id, log_set_id, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.LogSetID, string(r.Status), r.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("history: start: %w", err)
	}
	return r, nil
}

// Finish records the outcome of a run.
func (s *SQLiteStore) Finish(id string, status RunStatus, iterations int, summary string, ticketIDs []string) error {
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	ids, _ := json.Marshal(ticketIDs)
	result, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ?, iterations = ?, summary = ?, ticket_ids = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), iterations, summary, string(ids), id)
	if err != nil {
		return fmt.Errorf("history: finish: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("history: finish %q: %w", id, ErrNotFound)
	}
	return nil
}

// RecordTool appends a tool execution to the ledger.
func (s *SQLiteStore) RecordTool(rec ToolRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	args, err := json.Marshal(rec.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	_, err = s.db.Exec(`INSERT INTO tool_executions (id, run_id, tool, arguments, error, executed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Tool, string(args), rec.Error, rec.ExecutedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("history: record tool: %w", err)
	}
	return nil
}

// Get retrieves a run by ID, including its tool executions.
func (s *SQLiteStore) Get(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, log_set_id, status, started_at, finished_at, iterations, summary, ticket_ids FROM runs WHERE id = ?`, id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("history: get %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("history: get: %w", err)
	}

	tools, err := s.Tools(id)
	if err != nil {
		return nil, err
	}
	r.Tools = tools
	return r, nil
}

// List returns runs matching the filter, newest first.
func (s *SQLiteStore) List(filter Filter) ([]*Run, error) {
	query := "SELECT id, log_set_id, status, started_at, finished_at, iterations, summary, ticket_ids FROM runs WHERE 1=1"
	var args []any

	if filter.LogSetID != "" {
		query += " AND log_set_id = ?"
		args = append(args, filter.LogSetID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: list scan: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Tools returns the tool executions recorded under runID in execution order.
func (s *SQLiteStore) Tools(runID string) ([]ToolRecord, error) {
	rows, err := s.db.Query(`SELECT id, run_id, tool, arguments, error, executed_at FROM tool_executions WHERE run_id = ? ORDER BY executed_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: load tools: %w", err)
	}
	defer rows.Close()

	var recs []ToolRecord
	for rows.Next() {
		var rec ToolRecord
		var argsJSON, ts string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Tool, &argsJSON, &rec.Error, &ts); err != nil {
			return nil, fmt.Errorf("history: scan tool: %w", err)
		}
		json.Unmarshal([]byte(argsJSON), &rec.Arguments)
		rec.ExecutedAt, _ = time.Parse(time.RFC3339Nano, ts)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(s scannable) (*Run, error) {
	var r Run
	var status, startedAt, ticketIDs string
	var finishedAt *string

	err := s.Scan(&r.ID, &r.LogSetID, &status, &startedAt, &finishedAt, &r.Iterations, &r.Summary, &ticketIDs)
	if err != nil {
		return nil, err
	}

	r.Status = RunStatus(status)
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt != nil {
		ft, _ := time.Parse(time.RFC3339Nano, *finishedAt)
		r.FinishedAt = &ft
	}
	json.Unmarshal([]byte(ticketIDs), &r.TicketIDs)
	if r.TicketIDs == nil {
		r.TicketIDs = []string{}
	}
	return &r, nil
}
