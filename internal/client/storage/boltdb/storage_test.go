package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "client.db")
	s, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return s
}

func localDoc(id string, status models.SyncStatus) *models.Envelope {
	return &models.Envelope{
		ID:      id,
		Rev:     "1-aaaa",
		DocType: models.DocTypeCustomer,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Acme"},
		Audit: models.Audit{
			CreatedBy:  "u1",
			CreatedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			ModifiedBy: "u1",
			ModifiedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Version:    1,
		},
		Status:        status,
		QueuedForSync: status == models.StatusQueued,
	}
}

func TestStorage_SaveGetDocument(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	doc := localDoc("cust-1", models.StatusQueued)
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	// Состояние очереди сохраняется вместе с документом
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.True(t, got.QueuedForSync)
}

func TestStorage_GetDocument_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestStorage_QueueStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	s, err := New(ctx, dbPath)
	require.NoError(t, err)

	doc := localDoc("cust-1", models.StatusQueued)
	doc.Conflicts = []string{"1-dead"}
	require.NoError(t, s.SaveDocument(ctx, doc))
	require.NoError(t, s.SaveCheckpoint(ctx, 42))
	require.NoError(t, s.Close())

	// Перезапуск клиента
	s2, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s2.Close())
	}()

	got, err := s2.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Equal(t, []string{"1-dead"}, got.Conflicts)

	seq, err := s2.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}

func TestStorage_ListByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, localDoc("cust-1", models.StatusQueued)))
	require.NoError(t, s.SaveDocument(ctx, localDoc("cust-2", models.StatusClean)))
	require.NoError(t, s.SaveDocument(ctx, localDoc("cust-3", models.StatusQueued)))
	require.NoError(t, s.SaveDocument(ctx, localDoc("cust-4", models.StatusConflicted)))

	queued, err := s.ListByStatus(ctx, models.StatusQueued)
	require.NoError(t, err)
	assert.Len(t, queued, 2)

	conflicted, err := s.ListByStatus(ctx, models.StatusConflicted)
	require.NoError(t, err)
	require.Len(t, conflicted, 1)
	assert.Equal(t, "cust-4", conflicted[0].ID)

	all, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStorage_ConflictSnapshots(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	snapshot := localDoc("cust-1", "")
	snapshot.Rev = "2-bbbb"
	snapshot.Fields["name"] = "Acme Inc"
	require.NoError(t, s.SaveConflictSnapshot(ctx, snapshot))

	got, err := s.GetConflictSnapshot(ctx, "cust-1", "2-bbbb")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", got.Fields["name"])

	// Арена append-only: повторное сохранение не перезаписывает
	changed := snapshot.Clone()
	changed.Fields["name"] = "Overwritten"
	require.NoError(t, s.SaveConflictSnapshot(ctx, changed))

	got, err = s.GetConflictSnapshot(ctx, "cust-1", "2-bbbb")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", got.Fields["name"])

	_, err = s.GetConflictSnapshot(ctx, "cust-1", "9-none")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
}

func TestStorage_Closed(t *testing.T) {
	s := &Storage{}

	_, err := s.GetDocument(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	err = s.SaveDocument(context.Background(), localDoc("x", models.StatusClean))
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
