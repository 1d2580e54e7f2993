package api

// Change представляет одно изменение из ленты изменений store.
// Для tombstone Doc содержит завернутый документ с Deleted=true
// и пустыми content полями.
type Change struct {
	Doc     *Envelope `json:"doc,omitempty"`
	ID      string    `json:"id"`
	Rev     string    `json:"rev"`
	Seq     int64     `json:"seq"`
	Deleted bool      `json:"deleted"`
}

// ChangesResponse представляет страницу ленты изменений.
// LastSeq — resumable checkpoint для следующего запроса.
type ChangesResponse struct {
	Results []Change `json:"results"`
	LastSeq int64    `json:"last_seq"`
}
