// Package sync реализует клиентский цикл синхронизации: push локальной
// очереди пакетами, классификация результатов, разрешение конфликтов по
// стратегии и pull ленты изменений от checkpoint.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	stdsync "sync"
	"time"

	"github.com/sethvargo/go-retry"

	httpapi "github.com/akarpov/crmsync/internal/client/api"
	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/resolve"
	"github.com/akarpov/crmsync/pkg/api"
)

const (
	defaultBatchSize   = 25
	defaultMaxAttempts = 4
	defaultBaseBackoff = 500 * time.Millisecond
)

// Config параметры создания Engine
type Config struct {
	API         httpapi.ClientAPI
	Documents   storage.DocumentStorage
	Checkpoints storage.CheckpointStorage
	Strategies  resolve.Config
	Logger      *slog.Logger
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

// Engine представляет клиентский движок синхронизации.
// Все переходы состояния документа идут под per-document мьютексом:
// один писатель на id в пределах клиента.
type Engine struct {
	api         httpapi.ClientAPI
	docs        storage.DocumentStorage
	checkpoints storage.CheckpointStorage
	strategies  resolve.Config
	logger      *slog.Logger
	batchSize   int
	maxAttempts int
	baseBackoff time.Duration

	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

// NewEngine создает движок синхронизации
func NewEngine(cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		api:         cfg.API,
		docs:        cfg.Documents,
		checkpoints: cfg.Checkpoints,
		strategies:  cfg.Strategies,
		logger:      cfg.Logger,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		locks:       make(map[string]*stdsync.Mutex),
	}
}

// Rejection отклонение записи, поверхностно для вызывающего
type Rejection struct {
	ID     string
	Reason api.ReasonCode
	Detail string
}

// Result счетчики одного цикла Sync
type Result struct {
	Rejections    []Rejection
	Pushed        int
	Applied       int
	AutoResolved  int
	ManualPending int
	Rejected      int
	Pulled        int
	Failed        int
}

// Sync выполняет один цикл синхронизации: push очереди, затем pull
// ленты изменений. Возвращает счетчики даже при частичном сбое.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	res := &Result{}

	if err := e.push(ctx, res); err != nil {
		return res, fmt.Errorf("push failed: %w", err)
	}
	if err := e.pull(ctx, res); err != nil {
		return res, fmt.Errorf("pull failed: %w", err)
	}

	return res, nil
}

// Run запускает фоновый цикл синхронизации с заданным интервалом
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := e.Sync(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			e.logger.Error("sync cycle failed", "error", err)
		default:
			e.logger.Info("sync cycle complete",
				"pushed", res.Pushed,
				"applied", res.Applied,
				"auto_resolved", res.AutoResolved,
				"manual_pending", res.ManualPending,
				"rejected", res.Rejected,
				"pulled", res.Pulled,
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// push отправляет очередь пакетами фиксированного размера.
// Отмена кооперативная: ctx проверяется между пакетами, пакет атомарен
// с точки зрения клиента.
func (e *Engine) push(ctx context.Context, res *Result) error {
	if err := e.recoverStranded(ctx); err != nil {
		return err
	}

	queued, err := e.docs.ListByStatus(ctx, models.StatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued documents: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	// Детерминированный порядок пакетов
	sort.Slice(queued, func(i, j int) bool { return queued[i].ID < queued[j].ID })

	for start := 0; start < len(queued); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + e.batchSize
		if end > len(queued) {
			end = len(queued)
		}

		if err := e.pushBatch(ctx, queued[start:end], res); err != nil {
			return err
		}
	}

	return nil
}

// recoverStranded возвращает в очередь документы, оставшиеся в syncing
// после аварийного завершения клиента: состояние персистентно, и без
// подтвержденного результата push мутация не считается доставленной
func (e *Engine) recoverStranded(ctx context.Context) error {
	stranded, err := e.docs.ListByStatus(ctx, models.StatusSyncing)
	if err != nil {
		return fmt.Errorf("failed to list in-flight documents: %w", err)
	}

	for _, doc := range stranded {
		unlock := e.lockDoc(doc.ID)
		doc.Status = models.StatusQueued
		doc.QueuedForSync = true
		err := e.docs.SaveDocument(ctx, doc)
		unlock()
		if err != nil {
			return fmt.Errorf("failed to requeue in-flight document %s: %w", doc.ID, err)
		}
		e.logger.Warn("requeued document stranded in flight", "id", doc.ID)
	}

	return nil
}

func (e *Engine) pushBatch(ctx context.Context, batch []*models.Envelope, res *Result) error {
	req := api.BulkRequest{Docs: make([]api.Envelope, 0, len(batch))}
	for _, doc := range batch {
		doc.Status = models.StatusSyncing
		if err := e.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to mark document syncing: %w", err)
		}
		req.Docs = append(req.Docs, doc.ToAPI())
	}

	resp, err := e.bulkPushWithRetry(ctx, req)
	if err != nil {
		// Пакет не применен: документы возвращаются в очередь
		for _, doc := range batch {
			doc.Status = models.StatusQueued
			if saveErr := e.docs.SaveDocument(ctx, doc); saveErr != nil {
				e.logger.Error("failed to requeue document", "id", doc.ID, "error", saveErr)
			}
		}
		res.Failed += len(batch)
		return err
	}

	res.Pushed += len(batch)

	byID := make(map[string]*models.Envelope, len(batch))
	for _, doc := range batch {
		byID[doc.ID] = doc
	}

	for _, result := range resp.Results {
		doc, ok := byID[result.ID]
		if !ok {
			e.logger.Warn("bulk result for unknown document", "id", result.ID)
			continue
		}
		if err := e.applyPushResult(ctx, doc, result, res); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) applyPushResult(ctx context.Context, doc *models.Envelope, result api.BulkResult, res *Result) error {
	unlock := e.lockDoc(doc.ID)
	defer unlock()

	switch result.Status {
	case api.BulkApplied:
		doc.Rev = result.NewRev
		doc.BaseRev = ""
		doc.Status = models.StatusClean
		doc.QueuedForSync = false
		doc.PendingRev = ""
		doc.RejectReason = ""
		if err := e.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to save applied document: %w", err)
		}
		res.Applied++
		return nil

	case api.BulkConflict:
		return e.handleConflict(ctx, doc, result, res)

	case api.BulkRejected:
		doc.Status = models.StatusRejected
		doc.QueuedForSync = false
		doc.RejectReason = fmt.Sprintf("%s: %s", result.Reason, result.ReasonDetail)
		if err := e.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to save rejected document: %w", err)
		}
		res.Rejected++
		res.Rejections = append(res.Rejections, Rejection{
			ID:     doc.ID,
			Reason: result.Reason,
			Detail: result.ReasonDetail,
		})
		e.logger.Warn("write rejected",
			"id", doc.ID, "reason", result.Reason, "detail", result.ReasonDetail)
		return nil

	default:
		return fmt.Errorf("unknown bulk status %q for document %s", result.Status, doc.ID)
	}
}

// handleConflict применяет стратегию разрешения для типа документа:
// LWW сходится сразу и возвращает победителя в очередь, manual оставляет
// пару кандидатов ждать решения пользователя.
func (e *Engine) handleConflict(ctx context.Context, doc *models.Envelope, result api.BulkResult, res *Result) error {
	if result.StoreSnapshot == nil {
		return fmt.Errorf("conflict result for %s without store snapshot", doc.ID)
	}
	server := models.FromAPI(*result.StoreSnapshot)

	switch e.strategies.For(doc.DocType) {
	case resolve.StrategyLastWriteWins:
		resolution, err := resolve.LWW(doc, server)
		if err != nil {
			return fmt.Errorf("lww resolution failed for %s: %w", doc.ID, err)
		}
		if err := e.saveResolution(ctx, resolution); err != nil {
			return err
		}
		res.AutoResolved++
		e.logger.Info("conflict auto-resolved",
			"id", doc.ID, "merged_rev", resolution.Merged.Rev)
		return nil

	case resolve.StrategyManual:
		// Серверный кандидат в арену: Resolve достанет его по PendingRev
		if err := e.docs.SaveConflictSnapshot(ctx, server); err != nil {
			return fmt.Errorf("failed to retain store snapshot: %w", err)
		}
		doc.Status = models.StatusConflicted
		doc.QueuedForSync = false
		doc.PendingRev = server.Rev
		doc.Conflicts = appendRef(doc.Conflicts, server.Rev)
		if err := e.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to mark document conflicted: %w", err)
		}
		res.ManualPending++
		e.logger.Info("conflict awaiting manual resolution",
			"id", doc.ID, "store_rev", server.Rev)
		return nil

	default:
		return fmt.Errorf("unknown resolve strategy for doc type %q", doc.DocType)
	}
}

// saveResolution сохраняет вытесненные снимки в арену и возвращает
// сошедшийся документ в очередь синхронизации
func (e *Engine) saveResolution(ctx context.Context, resolution *resolve.Resolution) error {
	for _, snapshot := range resolution.Superseded {
		if err := e.docs.SaveConflictSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to retain superseded snapshot: %w", err)
		}
	}

	merged := resolution.Merged
	merged.Status = models.StatusQueued
	merged.QueuedForSync = true
	merged.PendingRev = ""
	merged.RejectReason = ""
	if err := e.docs.SaveDocument(ctx, merged); err != nil {
		return fmt.Errorf("failed to requeue merged document: %w", err)
	}

	return nil
}

// pull читает ленту изменений страницами от сохраненного checkpoint
// и накатывает изменения на чистые локальные копии. Документы с
// локальными изменениями не трогаются: их классифицирует следующий push.
func (e *Engine) pull(ctx context.Context, res *Result) error {
	since, err := e.checkpoints.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := e.changesWithRetry(ctx, since, e.batchSize)
		if err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return nil
		}

		for _, change := range resp.Results {
			if err := e.applyChange(ctx, change, res); err != nil {
				return err
			}
		}

		since = resp.LastSeq
		if err := e.checkpoints.SaveCheckpoint(ctx, since); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}

		if len(resp.Results) < e.batchSize {
			return nil
		}
	}
}

func (e *Engine) applyChange(ctx context.Context, change api.Change, res *Result) error {
	if change.Doc == nil {
		return fmt.Errorf("change %d for %s without document", change.Seq, change.ID)
	}

	unlock := e.lockDoc(change.ID)
	defer unlock()

	local, err := e.docs.GetDocument(ctx, change.ID)
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		// Новый для клиента документ
	case err != nil:
		return fmt.Errorf("failed to load local document: %w", err)
	default:
		if local.Rev == change.Rev {
			return nil
		}
		// Локальные незаконченные изменения не перезаписываются pull:
		// расхождение классифицирует следующий push
		if local.Status == models.StatusQueued ||
			local.Status == models.StatusConflicted ||
			local.Status == models.StatusSyncing {
			return nil
		}
	}

	incoming := models.FromAPI(*change.Doc)
	incoming.Status = models.StatusClean
	incoming.QueuedForSync = false
	if err := e.docs.SaveDocument(ctx, incoming); err != nil {
		return fmt.Errorf("failed to save pulled document: %w", err)
	}
	res.Pulled++

	return nil
}

func (e *Engine) bulkPushWithRetry(ctx context.Context, req api.BulkRequest) (*api.BulkResponse, error) {
	var resp *api.BulkResponse

	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		r, err := e.api.BulkPush(ctx, req)
		if err != nil {
			if httpapi.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk push failed: %w", err)
	}

	return resp, nil
}

func (e *Engine) changesWithRetry(ctx context.Context, since int64, limit int) (*api.ChangesResponse, error) {
	var resp *api.ChangesResponse

	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		r, err := e.api.Changes(ctx, since, limit)
		if err != nil {
			if httpapi.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("changes request failed: %w", err)
	}

	return resp, nil
}

func (e *Engine) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(e.maxAttempts), retry.NewExponential(e.baseBackoff))
}

// lockDoc берет per-document мьютекс и возвращает функцию освобождения
func (e *Engine) lockDoc(id string) func() {
	e.mu.Lock()
	m, ok := e.locks[id]
	if !ok {
		m = &stdsync.Mutex{}
		e.locks[id] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// appendRef добавляет ревизию в список conflict ссылок без дубликатов
func appendRef(refs []string, rev string) []string {
	for _, r := range refs {
		if r == rev {
			return refs
		}
	}
	return append(refs, rev)
}
