package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/revision"
	"github.com/akarpov/crmsync/internal/server/storage"
	"github.com/akarpov/crmsync/pkg/api"
)

// BulkApply applies a batch of envelopes on behalf of a principal.
// Каждый документ коммитится в собственной транзакции: батч атомарен
// с точки зрения клиента как "all-or-per-document-result", половинных
// записей одного документа не бывает.
func (s *Storage) BulkApply(ctx context.Context, docs []*models.Envelope, p models.Principal) ([]storage.ApplyResult, error) {
	results := make([]storage.ApplyResult, 0, len(docs))

	for _, doc := range docs {
		result, err := s.applyOne(ctx, doc, p)
		if err != nil {
			return nil, fmt.Errorf("failed to apply document %q: %w", doc.ID, err)
		}
		results = append(results, result)
	}

	return results, nil
}

// applyOne пропускает один документ через revision classification и
// validation gate внутри транзакции.
func (s *Storage) applyOne(ctx context.Context, doc *models.Envelope, p models.Principal) (storage.ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.ApplyResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getDocumentTx(ctx, tx, doc.ID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return storage.ApplyResult{}, err
	}

	currentRev := ""
	if current != nil {
		currentRev = current.Rev
	}

	// Дедупликация по (id, rev): повторная отправка уже примененной
	// записи (например после retry) не создает новой мутации
	if current != nil && doc.Rev != "" && doc.Rev == current.Rev {
		return storage.ApplyResult{ID: doc.ID, Status: api.BulkApplied, NewRev: current.Rev}, nil
	}

	switch revision.Classify(doc.BaseRev, currentRev) {
	case revision.OutcomeConflict:
		// Gate стоит перед tracker и на расходящейся записи: невалидный
		// контент отклоняется, а не паркуется в арене конфликтов
		if err := s.gate.CheckContent(doc); err != nil {
			var rejection *api.RejectionError
			if errors.As(err, &rejection) {
				return storage.ApplyResult{ID: doc.ID, Status: api.BulkRejected, Rejection: rejection}, nil
			}
			return storage.ApplyResult{}, err
		}
		return s.applyConflict(ctx, tx, doc, current)
	default:
		return s.applyWrite(ctx, tx, doc, current, p)
	}
}

// applyConflict регистрирует конфликт: store не перезаписывается, его
// текущая ревизия остается победителем по умолчанию; входящий полный
// снимок уходит в арену и его ревизия добавляется в conflict ссылки
// текущего документа. Данные не теряются.
func (s *Storage) applyConflict(ctx context.Context, tx *sql.Tx, doc, current *models.Envelope) (storage.ApplyResult, error) {
	loserRev := doc.Rev
	if loserRev == "" {
		rev, err := revision.Next(doc.BaseRev, doc.Fields, doc.Deleted)
		if err != nil {
			return storage.ApplyResult{}, err
		}
		loserRev = rev
	}

	loser := doc.Clone()
	loser.Rev = loserRev
	if err := putSnapshotTx(ctx, tx, loser); err != nil {
		return storage.ApplyResult{}, err
	}

	updated := current.Clone()
	if !containsRev(updated.Conflicts, loserRev) {
		updated.Conflicts = append(updated.Conflicts, loserRev)
		// Ревизия и seq не меняются: conflict ссылка — метаданные,
		// контент победителя не мутировал
		if err := updateBodyTx(ctx, tx, updated); err != nil {
			return storage.ApplyResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.ApplyResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return storage.ApplyResult{
		ID:       doc.ID,
		Status:   api.BulkConflict,
		StoreDoc: updated,
	}, nil
}

// applyWrite проводит create/update через gate и коммитит новую ревизию
func (s *Storage) applyWrite(ctx context.Context, tx *sql.Tx, doc, current *models.Envelope, p models.Principal) (storage.ApplyResult, error) {
	if err := s.gate.Check(doc, current, p); err != nil {
		var rejection *api.RejectionError
		if errors.As(err, &rejection) {
			// Отклонение терминально и не оставляет следов в store
			return storage.ApplyResult{ID: doc.ID, Status: api.BulkRejected, Rejection: rejection}, nil
		}
		return storage.ApplyResult{}, err
	}

	currentRev := ""
	stored := doc.Clone()
	stored.BaseRev = ""
	stored.Status = ""
	stored.QueuedForSync = false

	if current != nil {
		currentRev = current.Rev
		// Аудит создания неизменен после create
		stored.Audit.CreatedBy = current.Audit.CreatedBy
		stored.Audit.CreatedAt = current.Audit.CreatedAt
		stored.Audit.Version = current.Audit.Version + 1
	} else {
		stored.Audit.Version = 1
	}

	// Ревизия вычисляется детерминированно из контента и поколения:
	// идентичный контент с двух источников сходится к одному токену
	newRev, err := revision.Next(currentRev, stored.Fields, stored.Deleted)
	if err != nil {
		return storage.ApplyResult{}, err
	}
	stored.Rev = newRev

	// Вытесненная версия уходит в append-only арену: история документа
	// никогда физически не удаляется
	if current != nil {
		if err := putSnapshotTx(ctx, tx, current); err != nil {
			return storage.ApplyResult{}, err
		}
	}

	if err := upsertDocumentTx(ctx, tx, stored); err != nil {
		return storage.ApplyResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.ApplyResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return storage.ApplyResult{ID: doc.ID, Status: api.BulkApplied, NewRev: newRev}, nil
}

// GetDocument retrieves the current envelope by id, tombstones included
func (s *Storage) GetDocument(ctx context.Context, id string) (*models.Envelope, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return getDocumentTx(ctx, tx, id)
}

// GetSnapshot retrieves a superseded full snapshot by (id, rev)
func (s *Storage) GetSnapshot(ctx context.Context, id, rev string) (*models.Envelope, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM snapshots WHERE doc_id = ? AND rev = ?`, id, rev,
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return unmarshalEnvelope(body)
}

// Changes returns feed entries with seq > since, oldest first
func (s *Storage) Changes(ctx context.Context, since int64, limit int) ([]storage.Change, int64, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body, seq FROM documents WHERE seq > ? ORDER BY seq ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	changes := make([]storage.Change, 0, limit)
	lastSeq := since

	for rows.Next() {
		var body string
		var seq int64
		if err := rows.Scan(&body, &seq); err != nil {
			return nil, 0, fmt.Errorf("failed to scan change: %w", err)
		}

		doc, err := unmarshalEnvelope(body)
		if err != nil {
			return nil, 0, err
		}

		changes = append(changes, storage.Change{Doc: doc, Seq: seq})
		lastSeq = seq
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate changes: %w", err)
	}

	return changes, lastSeq, nil
}

// CurrentSeq returns the store's latest change sequence
func (s *Storage) CurrentSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get current seq: %w", err)
	}
	return seq, nil
}

// --- внутренние helpers ---

func getDocumentTx(ctx context.Context, tx *sql.Tx, id string) (*models.Envelope, error) {
	var body string
	err := tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE id = ?`, id).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return unmarshalEnvelope(body)
}

// upsertDocumentTx записывает документ со следующим change sequence
func upsertDocumentTx(ctx context.Context, tx *sql.Tx, doc *models.Envelope) error {
	body, err := marshalEnvelope(doc)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, rev, doc_type, owner, deleted, seq, body)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents), ?)
		ON CONFLICT (id) DO UPDATE SET
			rev = excluded.rev,
			doc_type = excluded.doc_type,
			owner = excluded.owner,
			deleted = excluded.deleted,
			seq = excluded.seq,
			body = excluded.body
	`, doc.ID, doc.Rev, doc.DocType, doc.Owner, boolToInt(doc.Deleted), body)

	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// updateBodyTx обновляет тело документа без смены ревизии и seq
func updateBodyTx(ctx context.Context, tx *sql.Tx, doc *models.Envelope) error {
	body, err := marshalEnvelope(doc)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE id = ?`, body, doc.ID); err != nil {
		return fmt.Errorf("failed to update document body: %w", err)
	}

	return nil
}

// putSnapshotTx добавляет полный снимок в арену; арена append-only,
// повторная вставка той же ревизии игнорируется
func putSnapshotTx(ctx context.Context, tx *sql.Tx, doc *models.Envelope) error {
	body, err := marshalEnvelope(doc)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (doc_id, rev, body, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (doc_id, rev) DO NOTHING
	`, doc.ID, doc.Rev, body, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to put snapshot: %w", err)
	}

	return nil
}

func marshalEnvelope(doc *models.Envelope) (string, error) {
	stored := doc.Clone()
	// Клиентское состояние очереди не хранится на сервере
	stored.Status = ""
	stored.QueuedForSync = false
	stored.BaseRev = ""

	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(body), nil
}

func unmarshalEnvelope(body string) (*models.Envelope, error) {
	doc := &models.Envelope{}
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return doc, nil
}

func containsRev(revs []string, rev string) bool {
	for _, r := range revs {
		if r == rev {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
