package storage

import "errors"

// Common client storage errors
var (
	// ErrStorageClosed indicates that storage was already closed
	ErrStorageClosed = errors.New("storage is closed")

	// ErrDocumentNotFound indicates that document was not found in local storage
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSnapshotNotFound indicates that no conflict snapshot exists for the revision
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
