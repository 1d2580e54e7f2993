package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/akarpov/crmsync/internal/server/storage"
	"github.com/akarpov/crmsync/pkg/api"
)

const (
	defaultChangesLimit = 100
	maxChangesLimit     = 1000
)

// ChangesHandler отдает инкрементальную ленту изменений store
type ChangesHandler struct {
	logger  *slog.Logger
	storage storage.DocumentStorage
}

// NewChangesHandler создает handler для ленты изменений
func NewChangesHandler(logger *slog.Logger, docStorage storage.DocumentStorage) *ChangesHandler {
	return &ChangesHandler{
		logger:  logger,
		storage: docStorage,
	}
}

// HandleChanges обрабатывает GET /api/v1/changes?since=N&limit=M.
// Записи упорядочены по seq, каждый документ встречается не более
// одного раза — на своем последнем изменении.
func (h *ChangesHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	since, err := parseInt64Param(r, "since", 0)
	if err != nil {
		h.logger.Warn("invalid since parameter", "error", err)
		http.Error(w, "Invalid since parameter", http.StatusBadRequest)
		return
	}

	limit, err := parseInt64Param(r, "limit", defaultChangesLimit)
	if err != nil || limit <= 0 {
		h.logger.Warn("invalid limit parameter", "error", err)
		http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
		return
	}
	if limit > maxChangesLimit {
		limit = maxChangesLimit
	}

	changes, lastSeq, err := h.storage.Changes(ctx, since, int(limit))
	if err != nil {
		h.logger.Error("failed to read change feed", "error", err, "since", since)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ChangesResponse{
		Results: make([]api.Change, 0, len(changes)),
		LastSeq: lastSeq,
	}
	for _, change := range changes {
		wire := change.Doc.ToAPI()
		resp.Results = append(resp.Results, api.Change{
			ID:      change.Doc.ID,
			Rev:     change.Doc.Rev,
			Seq:     change.Seq,
			Deleted: change.Doc.Deleted,
			Doc:     &wire,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode changes response", "error", err)
	}
}

func parseInt64Param(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
