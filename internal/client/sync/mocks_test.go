package sync

import (
	"context"
	stdsync "sync"

	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/pkg/api"
)

// ClientAPIMock мок серверного API с записью вызовов
type ClientAPIMock struct {
	BulkPushFunc func(ctx context.Context, req api.BulkRequest) (*api.BulkResponse, error)
	ChangesFunc  func(ctx context.Context, since int64, limit int) (*api.ChangesResponse, error)

	mu            stdsync.Mutex
	BulkPushCalls []api.BulkRequest
	ChangesCalls  []int64
}

func (m *ClientAPIMock) BulkPush(ctx context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
	m.mu.Lock()
	m.BulkPushCalls = append(m.BulkPushCalls, req)
	m.mu.Unlock()

	if m.BulkPushFunc == nil {
		return &api.BulkResponse{}, nil
	}
	return m.BulkPushFunc(ctx, req)
}

func (m *ClientAPIMock) Changes(ctx context.Context, since int64, limit int) (*api.ChangesResponse, error) {
	m.mu.Lock()
	m.ChangesCalls = append(m.ChangesCalls, since)
	m.mu.Unlock()

	if m.ChangesFunc == nil {
		return &api.ChangesResponse{}, nil
	}
	return m.ChangesFunc(ctx, since, limit)
}

// memDocs in-memory реализация DocumentStorage для тестов
type memDocs struct {
	mu        stdsync.Mutex
	docs      map[string]*models.Envelope
	snapshots map[string]*models.Envelope
}

func newMemDocs() *memDocs {
	return &memDocs{
		docs:      make(map[string]*models.Envelope),
		snapshots: make(map[string]*models.Envelope),
	}
}

func (m *memDocs) SaveDocument(ctx context.Context, doc *models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc.Clone()
	return nil
}

func (m *memDocs) GetDocument(ctx context.Context, id string) (*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (m *memDocs) ListDocuments(ctx context.Context) ([]*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]*models.Envelope, 0, len(m.docs))
	for _, doc := range m.docs {
		docs = append(docs, doc.Clone())
	}
	return docs, nil
}

func (m *memDocs) ListByStatus(ctx context.Context, status models.SyncStatus) ([]*models.Envelope, error) {
	all, err := m.ListDocuments(ctx)
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

func (m *memDocs) SaveConflictSnapshot(ctx context.Context, doc *models.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := doc.ID + "/" + doc.Rev
	if _, ok := m.snapshots[key]; ok {
		// Арена append-only
		return nil
	}
	m.snapshots[key] = doc.Clone()
	return nil
}

func (m *memDocs) GetConflictSnapshot(ctx context.Context, id, rev string) (*models.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.snapshots[id+"/"+rev]
	if !ok {
		return nil, storage.ErrSnapshotNotFound
	}
	return doc.Clone(), nil
}

// memCheckpoints in-memory реализация CheckpointStorage
type memCheckpoints struct {
	mu  stdsync.Mutex
	seq int64
}

func (m *memCheckpoints) SaveCheckpoint(ctx context.Context, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = seq
	return nil
}

func (m *memCheckpoints) GetCheckpoint(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, nil
}
