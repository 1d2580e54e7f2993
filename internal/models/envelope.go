package models

import "time"

// SyncStatus состояние документа в клиентской очереди синхронизации
type SyncStatus string

const (
	// StatusClean локальная копия совпадает со store
	StatusClean SyncStatus = "clean"
	// StatusQueued локальная мутация ожидает push
	StatusQueued SyncStatus = "queued"
	// StatusConflicted документ в конфликте, ждет разрешения
	StatusConflicted SyncStatus = "conflicted"
	// StatusSyncing push/pull для документа в полете
	StatusSyncing SyncStatus = "syncing"
	// StatusRejected запись отклонена gate; терминально для этой версии,
	// документ не возвращается в очередь без новой мутации
	StatusRejected SyncStatus = "rejected"
)

// DocType константы для встроенных типов документов
const (
	DocTypeCustomer = "customer"
	DocTypeProject  = "project"
	DocTypeInvoice  = "invoice"
	DocTypeApproval = "approval"
)

// Audit аудиторские поля документа.
// Version монотонный счетчик: ровно +1 на каждую принятую мутацию.
type Audit struct {
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	CreatedBy  string    `json:"created_by"`
	ModifiedBy string    `json:"modified_by"`
	Version    int64     `json:"version"`
}

// Correction запись об изменении immutable поля финализированного документа:
// старое значение, новое значение, причина, кто утвердил.
type Correction struct {
	ChangedAt time.Time `json:"changed_at"`
	Field     string    `json:"field"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Reason    string    `json:"reason"`
	Approver  string    `json:"approver"`
}

// Envelope каноническая форма синхронизируемого документа.
// Rev — revision token "generation-contenthash"; BaseRev — ревизия,
// от которой клиент произвел локальную мутацию (пустая для create).
// Conflicts хранит только токены проигравших ревизий; сами снимки
// лежат в append-only арене store (или локальном bucket клиента),
// никогда не вложены в Envelope.
type Envelope struct {
	Audit         Audit          `json:"audit"`
	Fields        map[string]any `json:"fields"`
	ID            string         `json:"id"`
	Rev           string         `json:"rev"`
	BaseRev       string         `json:"base_rev,omitempty"`
	DocType       string         `json:"doc_type"`
	Owner         string         `json:"owner"`
	Conflicts     []string       `json:"conflicts,omitempty"`
	Corrections   []Correction   `json:"corrections,omitempty"`
	Status        SyncStatus     `json:"status,omitempty"`
	PendingRev    string         `json:"pending_rev,omitempty"`
	RejectReason  string         `json:"reject_reason,omitempty"`
	QueuedForSync bool           `json:"queued_for_sync"`
	Deleted       bool           `json:"deleted"`
}

// Role класс принципала для RBAC проверок gate
type Role string

const (
	// RoleRestricted принципал ограничен записями, которыми владеет
	RoleRestricted Role = "restricted"
	// RoleElevated принципал с расширенными полномочиями (approval authority)
	RoleElevated Role = "elevated"
)

// Principal действующий принципал записи
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsElevated сообщает, имеет ли принципал расширенные полномочия
func (p Principal) IsElevated() bool {
	return p.Role == RoleElevated
}

// Clone создает глубокую копию envelope
func (e *Envelope) Clone() *Envelope {
	clone := *e

	clone.Fields = cloneFields(e.Fields)

	clone.Conflicts = make([]string, len(e.Conflicts))
	copy(clone.Conflicts, e.Conflicts)

	clone.Corrections = make([]Correction, len(e.Corrections))
	copy(clone.Corrections, e.Corrections)

	return &clone
}

// Tombstone строит надгробие документа: identity, docType, audit и
// история ревизий сохраняются, content поля отбрасываются.
func (e *Envelope) Tombstone(modifiedBy string, at time.Time) *Envelope {
	t := e.Clone()
	t.Fields = map[string]any{}
	t.Deleted = true
	t.Audit.ModifiedBy = modifiedBy
	t.Audit.ModifiedAt = at
	return t
}

// cloneFields копирует content поля на один уровень вложенности глубоко
// для map и slice значений. Значения после JSON round-trip всегда
// map[string]any / []any / скаляры.
func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case map[string]any:
			inner := make(map[string]any, len(val))
			for ik, iv := range val {
				inner[ik] = iv
			}
			out[k] = inner
		case []any:
			inner := make([]any, len(val))
			copy(inner, val)
			out[k] = inner
		default:
			out[k] = v
		}
	}

	return out
}
