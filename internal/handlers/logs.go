package handlers

import (
	"net/http"
	"strconv"

	"notifyd/internal/storage"
)

const defaultLogLimit = 100

// LogsHandler exposes the delivery audit trail.
type LogsHandler struct {
	store storage.Storage
}

func NewLogsHandler(store storage.Storage) *LogsHandler {
	return &LogsHandler{store: store}
}

func (h *LogsHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	logs, err := h.store.ListLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to list logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}
