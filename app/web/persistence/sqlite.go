package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/solarray/pipecron/app/web/enums"
)

// ErrNotFound returned for unknown execution id
var ErrNotFound = errors.New("execution not found")

// Execution is a single job run
type Execution struct {
	ID              int64           `json:"id"`
	JobID           string          `json:"job_id"`
	Spec            string          `json:"spec"`
	Command         string          `json:"command"`          // as written in the table
	ExecutedCommand string          `json:"executed_command"` // after template rendering
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Status          enums.JobStatus `json:"status"`
	ExitCode        int             `json:"exit_code"`
	Output          string          `json:"-"`
}

// executionRow is the db representation of Execution, timestamps kept as unix seconds
type executionRow struct {
	ID              int64           `db:"id"`
	JobID           string          `db:"job_id"`
	Spec            string          `db:"spec"`
	Command         string          `db:"command"`
	ExecutedCommand string          `db:"executed_command"`
	StartedAt       int64           `db:"started_at"`
	FinishedAt      int64           `db:"finished_at"`
	Status          enums.JobStatus `db:"status"`
	ExitCode        int             `db:"exit_code"`
	Output          string          `db:"output"`
}

const executionColumns = `id, job_id, spec, command, executed_command, started_at, finished_at, status, exit_code, output`

// SQLiteStore implements history storage with SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database and makes the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	res := &SQLiteStore{db: db}
	if err := res.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			spec TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			executed_command TEXT NOT NULL DEFAULT '',
			started_at INTEGER,
			finished_at INTEGER,
			status TEXT,
			exit_code INTEGER,
			output TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_job_id ON executions(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// RecordExecution stores a run and returns its id
func (s *SQLiteStore) RecordExecution(ctx context.Context, e Execution) (int64, error) {
	row := toRow(e)
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO executions (job_id, spec, command, executed_command, started_at, finished_at, status, exit_code, output)
		VALUES (:job_id, :spec, :command, :executed_command, :started_at, :finished_at, :status, :exit_code, :output)`, row)
	if err != nil {
		return 0, fmt.Errorf("failed to record execution: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get execution id: %w", err)
	}
	return id, nil
}

// Executions returns the most recent runs of the job, newest first
func (s *SQLiteStore) Executions(ctx context.Context, jobID string, limit int) ([]Execution, error) {
	rows := []executionRow{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+executionColumns+` FROM executions WHERE job_id = ? ORDER BY id DESC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for %s: %w", jobID, err)
	}
	res := make([]Execution, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.execution())
	}
	return res, nil
}

// Execution returns a run by id, ErrNotFound if missing
func (s *SQLiteStore) Execution(ctx context.Context, id int64) (Execution, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("failed to get execution %d: %w", id, err)
	}
	return row.execution(), nil
}

// LastExecutions returns the latest run for each job, keyed by job id
func (s *SQLiteStore) LastExecutions(ctx context.Context) (map[string]Execution, error) {
	rows := []executionRow{}
	err := s.db.SelectContext(ctx, &rows, `SELECT `+executionColumns+` FROM executions
		WHERE id IN (SELECT MAX(id) FROM executions GROUP BY job_id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query last executions: %w", err)
	}
	res := make(map[string]Execution, len(rows))
	for _, r := range rows {
		res[r.JobID] = r.execution()
	}
	return res, nil
}

// Cleanup keeps only the newest runs of the job, returns the number of removed rows
func (s *SQLiteStore) Cleanup(ctx context.Context, jobID string, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE job_id = ? AND id NOT IN
		(SELECT id FROM executions WHERE job_id = ? ORDER BY id DESC LIMIT ?)`, jobID, jobID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup executions for %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toRow(e Execution) executionRow {
	res := executionRow{ID: e.ID, JobID: e.JobID, Spec: e.Spec, Command: e.Command, ExecutedCommand: e.ExecutedCommand,
		Status: e.Status, ExitCode: e.ExitCode, Output: e.Output}
	if res.Status == (enums.JobStatus{}) {
		res.Status = enums.JobStatusIdle
	}
	if !e.StartedAt.IsZero() {
		res.StartedAt = e.StartedAt.Unix()
	}
	if !e.FinishedAt.IsZero() {
		res.FinishedAt = e.FinishedAt.Unix()
	}
	return res
}

func (r executionRow) execution() Execution {
	res := Execution{ID: r.ID, JobID: r.JobID, Spec: r.Spec, Command: r.Command, ExecutedCommand: r.ExecutedCommand,
		Status: r.Status, ExitCode: r.ExitCode, Output: r.Output}
	if r.StartedAt > 0 {
		res.StartedAt = time.Unix(r.StartedAt, 0)
	}
	if r.FinishedAt > 0 {
		res.FinishedAt = time.Unix(r.FinishedAt, 0)
	}
	return res
}
