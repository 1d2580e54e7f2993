package storage

import (
	"context"

	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/pkg/api"
)

// ApplyResult describes the per-document outcome of a bulk write:
// exactly one of applied / conflict / rejected.
type ApplyResult struct {
	// StoreDoc store's current envelope; set for conflict outcomes so the
	// client can start resolution without a second round trip
	StoreDoc *models.Envelope
	// Rejection typed gate rejection; set for rejected outcomes
	Rejection *api.RejectionError
	// ID of the document this result belongs to
	ID string
	// NewRev resulting revision; set for applied outcomes
	NewRev string
	// Status applied / conflict / rejected
	Status api.BulkStatus
}

// Change is one entry of the incremental change feed
type Change struct {
	Doc *models.Envelope
	Seq int64
}

// DocumentStorage defines interface for the authoritative document store.
// Every write passes the Validation Gate and the revision classification
// inside BulkApply; writes to the same id are serialized, documents with
// different ids are independent.
type DocumentStorage interface {
	// BulkApply applies a batch of envelopes on behalf of a principal.
	// Returns one result per input document, in input order. The batch is
	// not transactional across documents: each document commits or fails
	// on its own (all-or-per-document-result).
	BulkApply(ctx context.Context, docs []*models.Envelope, p models.Principal) ([]ApplyResult, error)

	// GetDocument retrieves the current envelope by id, tombstones included.
	// Returns ErrDocumentNotFound for unknown ids.
	GetDocument(ctx context.Context, id string) (*models.Envelope, error)

	// GetSnapshot retrieves a superseded or conflicting full snapshot from
	// the append-only arena by (id, revision token).
	// Returns ErrSnapshotNotFound if the arena has no such revision.
	GetSnapshot(ctx context.Context, id, rev string) (*models.Envelope, error)

	// Changes returns up to limit feed entries with seq > since, oldest
	// first, and the last seq of the page as a resumable checkpoint.
	// Each document appears at most once, at its latest change.
	Changes(ctx context.Context, since int64, limit int) ([]Change, int64, error)

	// CurrentSeq returns the store's latest change sequence
	CurrentSeq(ctx context.Context) (int64, error)
}
