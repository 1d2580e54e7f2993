package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/akarpov/crmsync/internal/models"
	"github.com/akarpov/crmsync/internal/server/storage"
	"github.com/akarpov/crmsync/pkg/api"
)

// BulkHandler обрабатывает пакетные записи документов
type BulkHandler struct {
	logger  *slog.Logger
	storage storage.DocumentStorage
}

// NewBulkHandler создает handler для bulk write endpoint
func NewBulkHandler(logger *slog.Logger, docStorage storage.DocumentStorage) *BulkHandler {
	return &BulkHandler{
		logger:  logger,
		storage: docStorage,
	}
}

// HandleBulk обрабатывает POST /api/v1/bulk.
// Ответ содержит ровно один результат на каждый документ запроса,
// в том же порядке.
func (h *BulkHandler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	principal, ok := GetPrincipal(ctx)
	if !ok {
		h.logger.Error("principal not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode bulk request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Docs) == 0 {
		http.Error(w, "Empty batch", http.StatusBadRequest)
		return
	}

	docs := make([]*models.Envelope, 0, len(req.Docs))
	for _, wire := range req.Docs {
		docs = append(docs, models.FromAPI(wire))
	}

	results, err := h.storage.BulkApply(ctx, docs, principal)
	if err != nil {
		h.logger.Error("bulk apply failed", "error", err, "principal", principal.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.BulkResponse{Results: make([]api.BulkResult, 0, len(results))}
	for _, result := range results {
		resp.Results = append(resp.Results, toBulkResult(result))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode bulk response", "error", err)
	}

	h.logger.Info("bulk write completed",
		"principal", principal.ID,
		"docs", len(req.Docs),
	)
}

func toBulkResult(result storage.ApplyResult) api.BulkResult {
	out := api.BulkResult{
		ID:     result.ID,
		Status: result.Status,
		NewRev: result.NewRev,
	}

	if result.StoreDoc != nil {
		wire := result.StoreDoc.ToAPI()
		out.StoreRev = wire.Rev
		out.StoreSnapshot = &wire
	}
	if result.Rejection != nil {
		out.Reason = result.Rejection.Code
		out.ReasonDetail = result.Rejection.Detail
	}

	return out
}
