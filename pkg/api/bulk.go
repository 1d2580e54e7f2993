package api

// BulkStatus описывает исход записи одного документа в bulk запросе.
type BulkStatus string

const (
	// BulkApplied запись принята, NewRev содержит новую ревизию
	BulkApplied BulkStatus = "applied"
	// BulkConflict ревизия в store ушла вперед, документ в конфликте
	BulkConflict BulkStatus = "conflict"
	// BulkRejected запись отклонена Validation Gate, Reason содержит код
	BulkRejected BulkStatus = "rejected"
)

// BulkRequest представляет пакетную запись документов от клиента.
type BulkRequest struct {
	Docs []Envelope `json:"docs"`
}

// BulkResult представляет исход записи одного документа.
// Для conflict сервер возвращает свою текущую ревизию и полный снимок,
// чтобы клиент мог запустить разрешение конфликта без второго запроса.
type BulkResult struct {
	StoreSnapshot *Envelope  `json:"store_snapshot,omitempty"`
	ID            string     `json:"id"`
	Status        BulkStatus `json:"status"`
	NewRev        string     `json:"new_rev,omitempty"`
	StoreRev      string     `json:"store_rev,omitempty"`
	Reason        ReasonCode `json:"reason,omitempty"`
	ReasonDetail  string     `json:"reason_detail,omitempty"`
}

// BulkResponse представляет ответ сервера на пакетную запись:
// ровно один результат на каждый документ запроса, в том же порядке.
type BulkResponse struct {
	Results []BulkResult `json:"results"`
}
