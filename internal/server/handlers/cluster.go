package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/akarpov/crmsync/internal/server/cluster"
	"github.com/akarpov/crmsync/pkg/api"
)

// ClusterHandler обрабатывает cluster-setup и membership запросы узла
type ClusterHandler struct {
	logger  *slog.Logger
	manager *cluster.Manager
}

// NewClusterHandler создает handler кластерных endpoints
func NewClusterHandler(logger *slog.Logger, manager *cluster.Manager) *ClusterHandler {
	return &ClusterHandler{
		logger:  logger,
		manager: manager,
	}
}

// HandleEnable обрабатывает POST /api/v1/cluster/enable
func (h *ClusterHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.ClusterEnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.Enable(req.Sharding); err != nil {
		h.clusterError(w, err)
		return
	}

	h.logger.Info("clustering enabled",
		"shards", req.Sharding.Shards, "replicas", req.Sharding.Replicas)
	w.WriteHeader(http.StatusOK)
}

// HandleAddNode обрабатывает POST /api/v1/cluster/nodes
func (h *ClusterHandler) HandleAddNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.AddNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.AddNode(req.Addr); err != nil {
		h.clusterError(w, err)
		return
	}

	h.logger.Info("node added to membership", "node", req.Addr)
	w.WriteHeader(http.StatusOK)
}

// HandleFinish обрабатывает POST /api/v1/cluster/finish
func (h *ClusterHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.manager.Finish(); err != nil {
		h.clusterError(w, err)
		return
	}

	h.logger.Info("cluster bootstrap finished")
	w.WriteHeader(http.StatusOK)
}

// HandleMembership обрабатывает GET /api/v1/cluster/membership
func (h *ClusterHandler) HandleMembership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := h.manager.Membership()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode membership response", "error", err)
	}
}

// HandleEnsureCollection обрабатывает PUT /api/v1/cluster/collections.
// Расхождение шардирования с существующей коллекцией — 409, никогда
// не тихий успех.
func (h *ClusterHandler) HandleEnsureCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.EnsureCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.manager.EnsureCollection(req.Name, req.Sharding)
	if err != nil {
		h.clusterError(w, err)
		return
	}

	if created {
		h.logger.Info("collection created",
			"name", req.Name, "shards", req.Sharding.Shards, "replicas", req.Sharding.Replicas)
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *ClusterHandler) clusterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cluster.ErrShardingImmutable):
		h.logger.Warn("sharding conflict", "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, cluster.ErrNotEnabled):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	default:
		h.logger.Error("cluster operation failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
