package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/akarpov/crmsync/internal/client/api"
	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/resolve"
	"github.com/akarpov/crmsync/internal/revision"
	"github.com/akarpov/crmsync/pkg/api"
)

func newTestEngine(apiMock *ClientAPIMock, batchSize int) (*Engine, *memDocs, *memCheckpoints) {
	docs := newMemDocs()
	checkpoints := &memCheckpoints{}

	engine := NewEngine(Config{
		API:         apiMock,
		Documents:   docs,
		Checkpoints: checkpoints,
		Strategies:  resolve.DefaultConfig(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BatchSize:   batchSize,
		BaseBackoff: time.Millisecond,
	})

	return engine, docs, checkpoints
}

// appliedAll отвечает applied на каждый документ запроса
func appliedAll(newRev string) func(context.Context, api.BulkRequest) (*api.BulkResponse, error) {
	return func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
		resp := &api.BulkResponse{}
		for _, doc := range req.Docs {
			resp.Results = append(resp.Results, api.BulkResult{
				ID:     doc.ID,
				Status: api.BulkApplied,
				NewRev: newRev,
			})
		}
		return resp, nil
	}
}

func queuedDoc(id, docType string, modifiedAt time.Time) *models.Envelope {
	return &models.Envelope{
		ID:      id,
		Rev:     "1-aa11",
		DocType: docType,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Local"},
		Audit: models.Audit{
			CreatedBy:  "u1",
			CreatedAt:  modifiedAt.Add(-time.Hour),
			ModifiedBy: "u1",
			ModifiedAt: modifiedAt,
			Version:    1,
		},
		Status:        models.StatusQueued,
		QueuedForSync: true,
	}
}

func TestEngine_Put_Create(t *testing.T) {
	engine, _, _ := newTestEngine(&ClientAPIMock{}, 0)

	staged, err := engine.Put(context.Background(), &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Fields:  map[string]any{"name": "Acme", "email": "acme@example.com"},
	}, "u1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusQueued, staged.Status)
	assert.True(t, staged.QueuedForSync)
	assert.Empty(t, staged.BaseRev)
	assert.Equal(t, int64(1), staged.Audit.Version)
	assert.Equal(t, "u1", staged.Owner)
	assert.Equal(t, "u1", staged.Audit.CreatedBy)
	assert.Equal(t, int64(1), revision.Generation(staged.Rev))
}

func TestEngine_Put_RepeatedEditBeforePush(t *testing.T) {
	engine, _, _ := newTestEngine(&ClientAPIMock{}, 0)
	ctx := context.Background()

	first, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Fields:  map[string]any{"name": "Acme"},
	}, "u1")
	require.NoError(t, err)

	// Повторная правка до push: база не двигается, документ остается create
	second, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Owner:   first.Owner,
		Fields:  map[string]any{"name": "Acme GmbH"},
	}, "u1")
	require.NoError(t, err)

	assert.Empty(t, second.BaseRev)
	assert.Equal(t, int64(2), second.Audit.Version)
	assert.Equal(t, first.Audit.CreatedAt, second.Audit.CreatedAt)
}

func TestEngine_Put_AfterSyncUsesNewBase(t *testing.T) {
	apiMock := &ClientAPIMock{BulkPushFunc: appliedAll("3-ab12")}
	engine, _, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	_, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Fields:  map[string]any{"name": "Acme"},
	}, "u1")
	require.NoError(t, err)

	_, err = engine.Sync(ctx)
	require.NoError(t, err)

	staged, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Acme GmbH"},
	}, "u1")
	require.NoError(t, err)

	assert.Equal(t, "3-ab12", staged.BaseRev)
	assert.Equal(t, int64(4), revision.Generation(staged.Rev))
}

func TestEngine_Put_ConflictPending(t *testing.T) {
	engine, docs, _ := newTestEngine(&ClientAPIMock{}, 0)
	ctx := context.Background()

	doc := queuedDoc("cust-1", models.DocTypeCustomer, time.Now().UTC())
	doc.Status = models.StatusConflicted
	doc.QueuedForSync = false
	require.NoError(t, docs.SaveDocument(ctx, doc))

	_, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Fields:  map[string]any{"name": "New"},
	}, "u1")
	assert.ErrorIs(t, err, ErrConflictPending)
}

func TestEngine_Delete_QueuesTombstone(t *testing.T) {
	engine, _, _ := newTestEngine(&ClientAPIMock{}, 0)
	ctx := context.Background()

	_, err := engine.Put(ctx, &models.Envelope{
		ID:      "cust-1",
		DocType: models.DocTypeCustomer,
		Fields:  map[string]any{"name": "Acme"},
	}, "u1")
	require.NoError(t, err)

	tomb, err := engine.Delete(ctx, "cust-1", "u2")
	require.NoError(t, err)

	assert.True(t, tomb.Deleted)
	assert.Empty(t, tomb.Fields)
	assert.Equal(t, models.StatusQueued, tomb.Status)
	assert.Equal(t, "u2", tomb.Audit.ModifiedBy)
	assert.Equal(t, "u1", tomb.Audit.CreatedBy)
	assert.Equal(t, int64(2), tomb.Audit.Version)
}

func TestEngine_Sync_AppliedTransitionsToClean(t *testing.T) {
	apiMock := &ClientAPIMock{BulkPushFunc: appliedAll("2-ff00")}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, queuedDoc("cust-1", models.DocTypeCustomer, time.Now().UTC())))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Applied)

	got, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClean, got.Status)
	assert.Equal(t, "2-ff00", got.Rev)
	assert.Empty(t, got.BaseRev)
	assert.False(t, got.QueuedForSync)
}

func TestEngine_Sync_Batching(t *testing.T) {
	apiMock := &ClientAPIMock{BulkPushFunc: appliedAll("2-ff00")}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		require.NoError(t, docs.SaveDocument(ctx, queuedDoc(id, models.DocTypeProject, time.Now().UTC())))
	}

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 30, res.Pushed)
	require.Len(t, apiMock.BulkPushCalls, 2)
	assert.Len(t, apiMock.BulkPushCalls[0].Docs, 25)
	assert.Len(t, apiMock.BulkPushCalls[1].Docs, 5)
}

func TestEngine_Sync_RejectedIsTerminal(t *testing.T) {
	apiMock := &ClientAPIMock{
		BulkPushFunc: func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
			return &api.BulkResponse{Results: []api.BulkResult{{
				ID:           req.Docs[0].ID,
				Status:       api.BulkRejected,
				Reason:       api.ReasonSchemaViolation,
				ReasonDetail: "missing required field \"email\"",
			}}}, nil
		},
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, queuedDoc("cust-1", models.DocTypeCustomer, time.Now().UTC())))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rejected)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, api.ReasonSchemaViolation, res.Rejections[0].Reason)

	got, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)
	assert.Contains(t, got.RejectReason, "schema-violation")

	// Отклоненный документ не повторяется следующим циклом
	_, err = engine.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, apiMock.BulkPushCalls, 1)
}

func TestEngine_Sync_ConflictLWWAutoResolved(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	server := &models.Envelope{
		ID:      "proj-1",
		Rev:     "2-bb22",
		DocType: models.DocTypeProject,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Server"},
		Audit: models.Audit{
			CreatedBy:  "u1",
			CreatedAt:  now.Add(-2 * time.Hour),
			ModifiedBy: "u2",
			ModifiedAt: now.Add(-time.Hour),
			Version:    2,
		},
	}
	serverWire := server.ToAPI()

	apiMock := &ClientAPIMock{
		BulkPushFunc: func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
			return &api.BulkResponse{Results: []api.BulkResult{{
				ID:            req.Docs[0].ID,
				Status:        api.BulkConflict,
				StoreRev:      server.Rev,
				StoreSnapshot: &serverWire,
			}}}, nil
		},
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	// Локальный кандидат моложе: LWW выбирает его
	local := queuedDoc("proj-1", models.DocTypeProject, now)
	require.NoError(t, docs.SaveDocument(ctx, local))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AutoResolved)

	merged, err := docs.GetDocument(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, merged.Status)
	assert.Equal(t, "Local", merged.Fields["name"])
	assert.Equal(t, server.Rev, merged.BaseRev)
	assert.Equal(t, int64(3), revision.Generation(merged.Rev))
	assert.Equal(t, int64(3), merged.Audit.Version)

	// Проигравший полный снимок остается доступным
	loser, err := docs.GetConflictSnapshot(ctx, "proj-1", server.Rev)
	require.NoError(t, err)
	assert.Equal(t, "Server", loser.Fields["name"])
}

func TestEngine_Sync_ConflictManualPending(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	server := &models.Envelope{
		ID:      "cust-1",
		Rev:     "2-bb22",
		DocType: models.DocTypeCustomer,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Acme Inc", "email": "acme@example.com"},
		Audit: models.Audit{
			CreatedBy:  "u1",
			CreatedAt:  now.Add(-2 * time.Hour),
			ModifiedBy: "u2",
			ModifiedAt: now.Add(-time.Minute),
			Version:    2,
		},
	}
	serverWire := server.ToAPI()

	apiMock := &ClientAPIMock{
		BulkPushFunc: func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
			return &api.BulkResponse{Results: []api.BulkResult{{
				ID:            req.Docs[0].ID,
				Status:        api.BulkConflict,
				StoreRev:      server.Rev,
				StoreSnapshot: &serverWire,
			}}}, nil
		},
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, queuedDoc("cust-1", models.DocTypeCustomer, now)))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ManualPending)

	got, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflicted, got.Status)
	assert.Equal(t, server.Rev, got.PendingRev)
	assert.Contains(t, got.Conflicts, server.Rev)
	assert.False(t, got.QueuedForSync)

	// Локальное содержимое не тронуто до решения пользователя
	assert.Equal(t, "Local", got.Fields["name"])
}

func TestEngine_Resolve_AppliesPicksAndRequeues(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	server := &models.Envelope{
		ID:      "cust-1",
		Rev:     "2-bb22",
		DocType: models.DocTypeCustomer,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Acme Inc", "email": "acme@example.com"},
		Audit: models.Audit{
			CreatedBy:  "u1",
			CreatedAt:  now.Add(-2 * time.Hour),
			ModifiedBy: "u2",
			ModifiedAt: now.Add(-time.Minute),
			Version:    2,
		},
	}
	serverWire := server.ToAPI()

	apiMock := &ClientAPIMock{
		BulkPushFunc: func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
			return &api.BulkResponse{Results: []api.BulkResult{{
				ID:            req.Docs[0].ID,
				Status:        api.BulkConflict,
				StoreRev:      server.Rev,
				StoreSnapshot: &serverWire,
			}}}, nil
		},
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	local := queuedDoc("cust-1", models.DocTypeCustomer, now)
	require.NoError(t, docs.SaveDocument(ctx, local))

	_, err := engine.Sync(ctx)
	require.NoError(t, err)

	// Обе стороны каждого расхождения предъявляются пользователю
	pending, err := engine.Conflict(ctx, "cust-1")
	require.NoError(t, err)
	require.NotEmpty(t, pending.Choices)
	assert.Equal(t, "Local", pending.Local.Fields["name"])
	assert.Equal(t, "Acme Inc", pending.Server.Fields["name"])

	merged, err := engine.Resolve(ctx, "cust-1", resolve.Picks{"name": resolve.PickLocal})
	require.NoError(t, err)

	assert.Equal(t, models.StatusQueued, merged.Status)
	assert.Equal(t, "Local", merged.Fields["name"])
	assert.Equal(t, "acme@example.com", merged.Fields["email"])
	assert.Empty(t, merged.PendingRev)
	assert.Equal(t, server.Rev, merged.BaseRev)

	// Оба родителя в арене снимков
	_, err = docs.GetConflictSnapshot(ctx, "cust-1", server.Rev)
	require.NoError(t, err)
	_, err = docs.GetConflictSnapshot(ctx, "cust-1", pending.Local.Rev)
	require.NoError(t, err)

	// Повторное разрешение невозможно
	_, err = engine.Resolve(ctx, "cust-1", nil)
	assert.ErrorIs(t, err, ErrNotConflicted)
}

func TestEngine_Sync_TransientRetried(t *testing.T) {
	attempts := 0
	apiMock := &ClientAPIMock{}
	apiMock.BulkPushFunc = func(_ context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
		attempts++
		if attempts == 1 {
			return nil, &httpapi.TransientError{Err: errors.New("connection reset")}
		}
		return appliedAll("2-ff00")(context.Background(), req)
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, queuedDoc("cust-1", models.DocTypeCustomer, time.Now().UTC())))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, res.Applied)
}

func TestEngine_Sync_TerminalErrorRequeuesBatch(t *testing.T) {
	apiMock := &ClientAPIMock{
		BulkPushFunc: func(_ context.Context, _ api.BulkRequest) (*api.BulkResponse, error) {
			return nil, errors.New("server returned 401: unauthorized")
		},
	}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	require.NoError(t, docs.SaveDocument(ctx, queuedDoc("cust-1", models.DocTypeCustomer, time.Now().UTC())))

	res, err := engine.Sync(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)

	// Документ вернулся в очередь, терминальная ошибка не ретраится внутри цикла
	got, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.Len(t, apiMock.BulkPushCalls, 1)
}

func TestEngine_Sync_RequeuesStrandedInFlight(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	apiMock := &ClientAPIMock{BulkPushFunc: appliedAll("2-ee55")}
	engine, docs, _ := newTestEngine(apiMock, 0)
	ctx := context.Background()

	// Клиент упал между пометкой syncing и результатом push: после
	// рестарта мутация должна уйти снова, а не застрять навсегда
	stranded := queuedDoc("cust-1", models.DocTypeCustomer, now)
	stranded.Status = models.StatusSyncing
	stranded.QueuedForSync = false
	require.NoError(t, docs.SaveDocument(ctx, stranded))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, apiMock.BulkPushCalls, 1)
	require.Len(t, apiMock.BulkPushCalls[0].Docs, 1)
	assert.Equal(t, "cust-1", apiMock.BulkPushCalls[0].Docs[0].ID)

	got, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClean, got.Status)
	assert.Equal(t, "2-ee55", got.Rev)
}

func TestEngine_Sync_PullSkipsLocalEdits(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	incomingNew := &models.Envelope{
		ID:      "cust-2",
		Rev:     "1-cc33",
		DocType: models.DocTypeCustomer,
		Owner:   "u2",
		Fields:  map[string]any{"name": "Beta"},
		Audit:   models.Audit{Version: 1, ModifiedAt: now},
	}
	incomingQueued := &models.Envelope{
		ID:      "cust-1",
		Rev:     "5-dd44",
		DocType: models.DocTypeCustomer,
		Owner:   "u1",
		Fields:  map[string]any{"name": "Server wins?"},
		Audit:   models.Audit{Version: 5, ModifiedAt: now},
	}
	newWire := incomingNew.ToAPI()
	queuedWire := incomingQueued.ToAPI()

	apiMock := &ClientAPIMock{
		ChangesFunc: func(_ context.Context, since int64, _ int) (*api.ChangesResponse, error) {
			if since > 0 {
				return &api.ChangesResponse{LastSeq: since}, nil
			}
			return &api.ChangesResponse{
				Results: []api.Change{
					{ID: "cust-1", Rev: incomingQueued.Rev, Seq: 1, Doc: &queuedWire},
					{ID: "cust-2", Rev: incomingNew.Rev, Seq: 2, Doc: &newWire},
				},
				LastSeq: 2,
			}, nil
		},
	}
	engine, docs, checkpoints := newTestEngine(apiMock, 0)
	ctx := context.Background()

	// Локально измененный документ: pull не должен его перезаписать.
	// Убираем его из push части, пометив conflicted напрямую.
	local := queuedDoc("cust-1", models.DocTypeCustomer, now)
	local.Status = models.StatusConflicted
	local.QueuedForSync = false
	require.NoError(t, docs.SaveDocument(ctx, local))

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pulled)

	kept, err := docs.GetDocument(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, "Local", kept.Fields["name"])

	pulled, err := docs.GetDocument(ctx, "cust-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClean, pulled.Status)
	assert.Equal(t, "Beta", pulled.Fields["name"])

	seq, err := checkpoints.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestEngine_Sync_PullPaginates(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	makeWire := func(id string, seq int64) api.Change {
		doc := &models.Envelope{
			ID:      id,
			Rev:     "1-aa11",
			DocType: models.DocTypeProject,
			Owner:   "u1",
			Fields:  map[string]any{"name": id},
			Audit:   models.Audit{Version: 1, ModifiedAt: now},
		}
		wire := doc.ToAPI()
		return api.Change{ID: id, Rev: doc.Rev, Seq: seq, Doc: &wire}
	}

	apiMock := &ClientAPIMock{
		ChangesFunc: func(_ context.Context, since int64, _ int) (*api.ChangesResponse, error) {
			switch since {
			case 0:
				return &api.ChangesResponse{
					Results: []api.Change{makeWire("p-1", 1), makeWire("p-2", 2)},
					LastSeq: 2,
				}, nil
			case 2:
				return &api.ChangesResponse{
					Results: []api.Change{makeWire("p-3", 3)},
					LastSeq: 3,
				}, nil
			default:
				return &api.ChangesResponse{LastSeq: since}, nil
			}
		},
	}
	engine, _, checkpoints := newTestEngine(apiMock, 2)
	ctx := context.Background()

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pulled)
	assert.Equal(t, []int64{0, 2}, apiMock.ChangesCalls)

	seq, err := checkpoints.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}
