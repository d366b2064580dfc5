package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/foundry/internal/project"
	"github.com/ShayCichocki/foundry/pkg/models"
)

// LatestCheckpoint is the name that always holds the most recent snapshot.
const LatestCheckpoint = "latest"

// ErrCheckpointNotFound is returned when no checkpoint exists under a name.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointInfo summarizes a stored checkpoint without decoding it.
type CheckpointInfo struct {
	Name          string
	Phase         models.Phase
	TaskCount     int
	DoneCount     int
	BlockedReason string
	SavedAt       time.Time
}

// Save writes doc under name and under LatestCheckpoint in one transaction.
func (db *DB) Save(ctx context.Context, name string, doc *project.Document) error {
	if name == "" {
		return errors.New("checkpoint name must not be empty")
	}
	if doc == nil {
		return errors.New("checkpoint document must not be nil")
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", name, err)
	}

	done := 0
	for _, t := range doc.Tasks {
		if t.Status == models.TaskStatusDone {
			done++
		}
	}
	var blocked sql.NullString
	if doc.BlockedReason != nil {
		blocked = sql.NullString{String: *doc.BlockedReason, Valid: true}
	}

	db.mu.RLock()
	savedAt := formatTime(db.now())
	db.mu.RUnlock()

	names := []string{name}
	if name != LatestCheckpoint {
		names = append(names, LatestCheckpoint)
	}

	return db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, n := range names {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO checkpoints (name, phase, document, saved_at, task_count, done_count, blocked_reason)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					phase = excluded.phase,
					document = excluded.document,
					saved_at = excluded.saved_at,
					task_count = excluded.task_count,
					done_count = excluded.done_count,
					blocked_reason = excluded.blocked_reason
			`, n, string(doc.Phase), string(data), savedAt, len(doc.Tasks), done, blocked)
			if err != nil {
				return fmt.Errorf("save checkpoint %s: %w", n, err)
			}
		}
		return nil
	})
}

// Load returns the document stored under name.
func (db *DB) Load(ctx context.Context, name string) (*project.Document, error) {
	var data string
	db.mu.RLock()
	err := db.conn.QueryRowContext(ctx, "SELECT document FROM checkpoints WHERE name = ?", name).Scan(&data)
	db.mu.RUnlock()
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", name, err)
	}

	var doc project.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return &doc, nil
}

// Latest returns the most recently saved document.
func (db *DB) Latest(ctx context.Context) (*project.Document, error) {
	return db.Load(ctx, LatestCheckpoint)
}

// LoadProject loads the named checkpoint and rebuilds a project from it.
func (db *DB) LoadProject(ctx context.Context, name string) (*project.Project, error) {
	doc, err := db.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	p, err := project.FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint %s: %w", name, err)
	}
	return p, nil
}

// List returns every checkpoint, newest first.
func (db *DB) List(ctx context.Context) ([]CheckpointInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, phase, task_count, done_count, blocked_reason, saved_at
		FROM checkpoints ORDER BY saved_at DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointInfo
	for rows.Next() {
		var info CheckpointInfo
		var phase, savedAt string
		var blocked sql.NullString
		if err := rows.Scan(&info.Name, &phase, &info.TaskCount, &info.DoneCount, &blocked, &savedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		info.Phase = models.Phase(phase)
		info.BlockedReason = blocked.String
		info.SavedAt, _ = parseTime(savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes a named checkpoint. LatestCheckpoint cannot be deleted.
func (db *DB) Delete(ctx context.Context, name string) error {
	if name == LatestCheckpoint {
		return fmt.Errorf("refusing to delete %q checkpoint", LatestCheckpoint)
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrCheckpointNotFound, name)
		}
		return nil
	})
}

// PurgeOlderThan deletes named checkpoints saved before the cutoff.
// LatestCheckpoint is always kept. Returns the number of checkpoints deleted.
func (db *DB) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	db.mu.RLock()
	cutoff := formatTime(db.now().Add(-olderThan))
	db.mu.RUnlock()

	var count int64
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE saved_at < ? AND name != ?", cutoff, LatestCheckpoint)
		if err != nil {
			return fmt.Errorf("purge checkpoints: %w", err)
		}
		count, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return count, err
}
