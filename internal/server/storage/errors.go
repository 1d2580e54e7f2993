package storage

import "errors"

// Common storage errors
var (
	// ErrDocumentNotFound indicates that document was not found in storage
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSnapshotNotFound indicates that no snapshot exists for the revision
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
