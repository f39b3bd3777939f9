package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
)

// Queue is the broker surface the notify handler needs.
type Queue interface {
	Enqueue(ctx context.Context, job *models.Job, opts queue.Options) (string, error)
	GetJob(ctx context.Context, jobID string) (*models.JobState, error)
}

// NotifyHandler accepts single-notification requests: immediate sends
// go straight to the queue, future sends become scheduled rows.
type NotifyHandler struct {
	store    storage.Storage
	queue    Queue
	validate *validator.Validate
}

func NewNotifyHandler(store storage.Storage, q Queue) *NotifyHandler {
	return &NotifyHandler{
		store:    store,
		queue:    q,
		validate: validator.New(),
	}
}

func (h *NotifyHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.SendAt != nil && req.SendAt.After(time.Now()) {
		scheduled := &models.ScheduledNotification{
			ID:         uuid.NewString(),
			To:         req.To,
			Channel:    req.Channel,
			Message:    req.Message,
			Subject:    req.Subject,
			TemplateID: req.TemplateID,
			SendAt:     *req.SendAt,
			Status:     models.ScheduledPending,
			Metadata:   map[string]any{"variables": req.Variables},
			CreatedAt:  time.Now(),
			UpdatedAt:  time.Now(),
		}
		if err := h.store.CreateScheduled(ctx, scheduled); err != nil {
			http.Error(w, "Failed to schedule notification", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":      "scheduled",
			"sendAt":      req.SendAt,
			"scheduledId": scheduled.ID,
		})
		return
	}

	job := &models.Job{
		To:         req.To,
		Channel:    req.Channel,
		Message:    req.Message,
		Subject:    req.Subject,
		TemplateID: req.TemplateID,
		Variables:  req.Variables,
	}

	jobID, err := h.queue.Enqueue(ctx, job, queue.DefaultOptions())
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			http.Error(w, "Queue unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "Failed to enqueue notification", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"jobId":  jobID,
	})
}

func (h *NotifyHandler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	state, err := h.queue.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get job status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
