package storage

import (
	"context"

	"github.com/akarpov/crmsync/internal/models"
)

//go:generate moq -out documents_mock.go . DocumentStorage

// DocumentStorage defines interface for the client-side document mirror.
// Queue state (id, rev, status, conflict refs) persists with the envelope
// and survives client restarts.
type DocumentStorage interface {
	// SaveDocument stores or replaces a local envelope together with its
	// sync queue state
	SaveDocument(ctx context.Context, doc *models.Envelope) error

	// GetDocument retrieves a local envelope by id, tombstones included.
	// Returns ErrDocumentNotFound if the id is unknown.
	GetDocument(ctx context.Context, id string) (*models.Envelope, error)

	// ListDocuments returns all local envelopes, tombstones included
	ListDocuments(ctx context.Context) ([]*models.Envelope, error)

	// ListByStatus returns local envelopes in the given sync state
	ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.Envelope, error)

	// SaveConflictSnapshot retains a losing/superseded full snapshot,
	// keyed by (id, revision token); never overwrites an existing snapshot
	SaveConflictSnapshot(ctx context.Context, doc *models.Envelope) error

	// GetConflictSnapshot retrieves a retained snapshot by (id, rev).
	// Returns ErrSnapshotNotFound if no snapshot exists.
	GetConflictSnapshot(ctx context.Context, id, rev string) (*models.Envelope, error)
}

//go:generate moq -out checkpoint_mock.go . CheckpointStorage

// CheckpointStorage defines interface for the pull feed checkpoint
type CheckpointStorage interface {
	// SaveCheckpoint persists the last consumed change sequence
	SaveCheckpoint(ctx context.Context, seq int64) error

	// GetCheckpoint returns the last consumed change sequence,
	// 0 if no pull has completed yet
	GetCheckpoint(ctx context.Context) (int64, error)
}
