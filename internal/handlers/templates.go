package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"notifyd/internal/models"
	"notifyd/internal/storage"
)

// TemplateHandler manages reusable message templates. Deleting a
// template deactivates it so historical logs keep a valid reference.
type TemplateHandler struct {
	store    storage.Storage
	validate *validator.Validate
}

func NewTemplateHandler(store storage.Storage) *TemplateHandler {
	return &TemplateHandler{
		store:    store,
		validate: validator.New(),
	}
}

func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := time.Now()
	tmpl := &models.Template{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Channel:   req.Channel,
		Subject:   req.Subject,
		Body:      req.Body,
		Variables: req.Variables,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateTemplate(ctx, tmpl); err != nil {
		http.Error(w, "Failed to create template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	tmpl, err := h.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Template not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to get template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.ListTemplates(r.Context())
	if err != nil {
		http.Error(w, "Failed to list templates", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (h *TemplateHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req models.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var updated *models.Template
	err := h.store.UpdateTemplate(ctx, id, func(t *models.Template) {
		t.Name = req.Name
		t.Channel = req.Channel
		t.Subject = req.Subject
		t.Body = req.Body
		t.Variables = req.Variables
		updated = t
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Template not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update template", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *TemplateHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := h.store.UpdateTemplate(ctx, id, func(t *models.Template) {
		t.IsActive = false
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Template not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to delete template", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
