package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
)

// SaveDocument stores or replaces a local envelope in BoltDB
func (s *Storage) SaveDocument(ctx context.Context, doc *models.Envelope) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	// Сериализуем envelope в JSON вместе с состоянием очереди
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketDocuments)
		if err := bucket.Put([]byte(doc.ID), data); err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetDocument retrieves a local envelope by ID
func (s *Storage) GetDocument(ctx context.Context, id string) (*models.Envelope, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var doc *models.Envelope

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return storage.ErrDocumentNotFound
		}

		doc = &models.Envelope{}
		if err := json.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("failed to unmarshal envelope: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return doc, nil
}

// ListDocuments returns all local envelopes, tombstones included
func (s *Storage) ListDocuments(ctx context.Context) ([]*models.Envelope, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var docs []*models.Envelope

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			var doc models.Envelope
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal envelope: %w", err)
			}
			docs = append(docs, &doc)
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return docs, nil
}

// ListByStatus returns local envelopes in the given sync state
func (s *Storage) ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.Envelope, error) {
	all, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	docs := make([]*models.Envelope, 0, len(all))
	for _, doc := range all {
		if doc.Status == status {
			docs = append(docs, doc)
		}
	}

	return docs, nil
}

// SaveConflictSnapshot retains a losing full snapshot keyed by (id, rev).
// Bucket append-only: существующий снимок никогда не перезаписывается.
func (s *Storage) SaveConflictSnapshot(ctx context.Context, doc *models.Envelope) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		key := snapshotKey(doc.ID, doc.Rev)

		if bucket.Get(key) != nil {
			// Уже сохранен — арена append-only
			return nil
		}

		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetConflictSnapshot retrieves a retained snapshot by (id, rev)
func (s *Storage) GetConflictSnapshot(ctx context.Context, id, rev string) (*models.Envelope, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var doc *models.Envelope

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConflicts).Get(snapshotKey(id, rev))
		if data == nil {
			return storage.ErrSnapshotNotFound
		}

		doc = &models.Envelope{}
		if err := json.Unmarshal(data, doc); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return doc, nil
}

// snapshotKey строит ключ арены снимков
func snapshotKey(id, rev string) []byte {
	return []byte(id + "/" + rev)
}
