// Package runlog keeps a journal of orchestrator runs for crash detection
// and `foundry status`.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusAbandoned = "abandoned"
)

// Run is one orchestrator Run or Resume invocation.
type Run struct {
	ID         string
	Strategy   string
	Status     string
	Outcome    string
	Checkpoint string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Journal records runs in a SQLite database.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// JournalPath returns the journal database path under stateDir.
func JournalPath(stateDir string) string {
	return filepath.Join(stateDir, "runs.db")
}

// NewJournal opens (creating if needed) the journal at dbPath.
func NewJournal(dbPath string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			outcome TEXT,
			checkpoint TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (j *Journal) SetClock(now func() time.Time) {
	j.now = now
}

// StartRun records a new running entry and returns its ID.
func (j *Journal) StartRun(ctx context.Context, strategy string) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, strategy, status, started_at)
		VALUES (?, ?, ?, ?)
	`, id, strategy, StatusRunning, j.now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun closes a running entry with its outcome and last checkpoint.
func (j *Journal) FinishRun(ctx context.Context, runID, outcome, checkpoint string) error {
	result, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, outcome = ?, checkpoint = ?, finished_at = ?
		WHERE id = ?
	`, StatusFinished, outcome, checkpoint, j.now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, strategy, status, outcome, checkpoint, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, strategy, status, outcome, checkpoint, started_at, finished_at
		FROM runs ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkAbandoned closes every entry still marked running. A process that
// crashed mid-run leaves such entries behind. Returns the abandoned IDs.
func (j *Journal) MarkAbandoned(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT id FROM runs WHERE status = ?", StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query running: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := j.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
		`, StatusAbandoned, j.now().UTC(), id); err != nil {
			return nil, fmt.Errorf("abandon run %s: %w", id, err)
		}
	}
	return ids, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var outcome, checkpoint sql.NullString
	var finished sql.NullTime
	if err := s.Scan(&run.ID, &run.Strategy, &run.Status, &outcome, &checkpoint, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	run.Outcome = outcome.String
	run.Checkpoint = checkpoint.String
	if finished.Valid {
		at := finished.Time
		run.FinishedAt = &at
	}
	return &run, nil
}
