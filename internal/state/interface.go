package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/foundry/internal/project"
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// CheckpointStore persists project snapshots under names, always keeping
// "latest" pointing at the most recent save.
type CheckpointStore interface {
	io.Closer
	Migrator
	Save(ctx context.Context, name string, doc *project.Document) error
	Load(ctx context.Context, name string) (*project.Document, error)
	Latest(ctx context.Context) (*project.Document, error)
	List(ctx context.Context) ([]CheckpointInfo, error)
	Delete(ctx context.Context, name string) error
}

// Compile-time verification that DB implements all interfaces.
var (
	_ CheckpointStore = (*DB)(nil)
	_ Migrator        = (*DB)(nil)
)
