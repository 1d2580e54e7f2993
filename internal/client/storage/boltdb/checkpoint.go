package boltdb

import (
	"context"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"

	"github.com/akarpov/crmsync/internal/client/storage"
)

var keyCheckpoint = []byte("pull_checkpoint")

// SaveCheckpoint persists the last consumed change sequence
func (s *Storage) SaveCheckpoint(ctx context.Context, seq int64) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value := []byte(strconv.FormatInt(seq, 10))
		if err := tx.Bucket(bucketMeta).Put(keyCheckpoint, value); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetCheckpoint returns the last consumed change sequence, 0 if none
func (s *Storage) GetCheckpoint(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, storage.ErrStorageClosed
	}

	var seq int64

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyCheckpoint)
		if data == nil {
			// Синхронизация еще не выполнялась
			return nil
		}

		parsed, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse checkpoint: %w", err)
		}

		seq = parsed
		return nil
	})

	if err != nil {
		return 0, err
	}

	return seq, nil
}
