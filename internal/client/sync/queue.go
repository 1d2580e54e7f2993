package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/akarpov/crmsync/internal/client/storage"
	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/resolve"
	"github.com/akarpov/crmsync/internal/revision"
)

var (
	// ErrConflictPending документ ждет разрешения конфликта, новые мутации
	// не принимаются до решения
	ErrConflictPending = errors.New("document has a pending conflict")

	// ErrNotConflicted Resolve вызван для документа без конфликта
	ErrNotConflicted = errors.New("document is not conflicted")
)

// Put ставит локальный create/update в очередь синхронизации.
// Операция синхронная и неблокирующая: документ получает локальную
// ревизию и состояние queued, сетевых вызовов нет.
func (e *Engine) Put(ctx context.Context, doc *models.Envelope, principalID string) (*models.Envelope, error) {
	unlock := e.lockDoc(doc.ID)
	defer unlock()

	now := time.Now().UTC()
	staged := doc.Clone()

	current, err := e.docs.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if current.Status == models.StatusConflicted {
			return nil, ErrConflictPending
		}
		// База мутации — последняя синхронизированная ревизия; для
		// повторной правки до push база не двигается
		if current.Status == models.StatusClean {
			staged.BaseRev = current.Rev
		} else {
			staged.BaseRev = current.BaseRev
		}
		staged.Audit.CreatedBy = current.Audit.CreatedBy
		staged.Audit.CreatedAt = current.Audit.CreatedAt
		staged.Audit.Version = current.Audit.Version + 1
		staged.Conflicts = append([]string(nil), current.Conflicts...)
	case errors.Is(err, storage.ErrDocumentNotFound):
		staged.BaseRev = ""
		staged.Audit.CreatedBy = principalID
		staged.Audit.CreatedAt = now
		staged.Audit.Version = 1
		if staged.Owner == "" {
			staged.Owner = principalID
		}
	default:
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	staged.Audit.ModifiedBy = principalID
	staged.Audit.ModifiedAt = now

	rev, err := revision.Next(staged.BaseRev, staged.Fields, staged.Deleted)
	if err != nil {
		return nil, fmt.Errorf("failed to compute revision: %w", err)
	}
	staged.Rev = rev

	staged.Status = models.StatusQueued
	staged.QueuedForSync = true
	staged.PendingRev = ""
	staged.RejectReason = ""

	if err := e.docs.SaveDocument(ctx, staged); err != nil {
		return nil, fmt.Errorf("failed to queue document: %w", err)
	}

	return staged, nil
}

// Delete ставит tombstone документа в очередь синхронизации.
// Identity, docType и audit сохраняются, content поля отбрасываются.
func (e *Engine) Delete(ctx context.Context, id, principalID string) (*models.Envelope, error) {
	unlock := e.lockDoc(id)
	defer unlock()

	current, err := e.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if current.Status == models.StatusConflicted {
		return nil, ErrConflictPending
	}

	tomb := current.Tombstone(principalID, time.Now().UTC())
	if current.Status == models.StatusClean {
		tomb.BaseRev = current.Rev
	}
	tomb.Audit.Version = current.Audit.Version + 1

	rev, err := revision.Next(tomb.BaseRev, tomb.Fields, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compute revision: %w", err)
	}
	tomb.Rev = rev

	tomb.Status = models.StatusQueued
	tomb.QueuedForSync = true
	tomb.PendingRev = ""
	tomb.RejectReason = ""

	if err := e.docs.SaveDocument(ctx, tomb); err != nil {
		return nil, fmt.Errorf("failed to queue tombstone: %w", err)
	}

	return tomb, nil
}

// PendingConflict пара кандидатов конфликта и их пополевые расхождения
type PendingConflict struct {
	Local   *models.Envelope
	Server  *models.Envelope
	Choices []resolve.FieldChoice
}

// Conflict возвращает кандидатов ожидающего конфликта для предъявления
// пользователю. Оба значения каждого расхождения присутствуют в Choices.
func (e *Engine) Conflict(ctx context.Context, id string) (*PendingConflict, error) {
	local, err := e.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if local.Status != models.StatusConflicted {
		return nil, ErrNotConflicted
	}

	server, err := e.docs.GetConflictSnapshot(ctx, id, local.PendingRev)
	if err != nil {
		return nil, fmt.Errorf("failed to load store candidate: %w", err)
	}

	return &PendingConflict{
		Local:   local,
		Server:  server,
		Choices: resolve.FieldChoices(local, server),
	}, nil
}

// Resolve применяет пополевые решения пользователя к ожидающему конфликту
// и возвращает сошедшийся документ в очередь синхронизации. Оба родителя
// остаются в арене снимков.
func (e *Engine) Resolve(ctx context.Context, id string, picks resolve.Picks) (*models.Envelope, error) {
	unlock := e.lockDoc(id)
	defer unlock()

	local, err := e.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if local.Status != models.StatusConflicted {
		return nil, ErrNotConflicted
	}

	server, err := e.docs.GetConflictSnapshot(ctx, id, local.PendingRev)
	if err != nil {
		return nil, fmt.Errorf("failed to load store candidate: %w", err)
	}

	resolution, err := resolve.ApplyChoices(local, server, picks)
	if err != nil {
		return nil, fmt.Errorf("failed to apply choices: %w", err)
	}

	if err := e.saveResolution(ctx, resolution); err != nil {
		return nil, err
	}

	return resolution.Merged, nil
}
