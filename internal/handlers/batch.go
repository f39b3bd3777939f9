package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"notifyd/internal/batch"
	"notifyd/internal/models"
	"notifyd/internal/queue"
)

// BatchHandler fans a recipient list out into staggered jobs and
// reports aggregate progress per batch.
type BatchHandler struct {
	orchestrator *batch.Orchestrator
	validate     *validator.Validate
}

func NewBatchHandler(o *batch.Orchestrator) *BatchHandler {
	return &BatchHandler{
		orchestrator: o,
		validate:     validator.New(),
	}
}

func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.CreateBatch(ctx, req)
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			http.Error(w, "Queue unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to create batch", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *BatchHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "batchId")
	if batchID == "" {
		http.Error(w, "Batch ID is required", http.StatusBadRequest)
		return
	}

	status, err := h.orchestrator.GetBatchStatus(ctx, batchID)
	if err != nil {
		http.Error(w, "Failed to get batch status", http.StatusInternalServerError)
		return
	}
	if status.Total == 0 {
		http.Error(w, "Batch not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
