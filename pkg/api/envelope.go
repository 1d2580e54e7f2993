package api

import "time"

// Audit содержит аудиторские поля документа.
// Version растет ровно на 1 на каждую принятую мутацию.
type Audit struct {
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	CreatedBy  string    `json:"created_by"`
	ModifiedBy string    `json:"modified_by"`
	Version    int64     `json:"version"`
}

// Correction представляет структурированную запись об изменении
// неизменяемого поля финализированного документа.
type Correction struct {
	ChangedAt time.Time `json:"changed_at"`
	Field     string    `json:"field"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
	Reason    string    `json:"reason"`
	Approver  string    `json:"approver"`
}

// Envelope представляет одну запись документа для синхронизации.
// Rev — opaque revision token формата "generation-contenthash".
// BaseRev — ревизия, от которой клиент произвел свою мутацию;
// сервер использует её для классификации create/update/conflict.
type Envelope struct {
	Audit       Audit          `json:"audit"`
	Fields      map[string]any `json:"fields"`
	ID          string         `json:"id"`
	Rev         string         `json:"rev"`
	BaseRev     string         `json:"base_rev,omitempty"`
	DocType     string         `json:"doc_type"`
	Owner       string         `json:"owner"`
	Conflicts   []string       `json:"conflicts,omitempty"`
	Corrections []Correction   `json:"corrections,omitempty"`
	Deleted     bool           `json:"deleted"`
}
