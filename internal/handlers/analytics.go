package handlers

import (
	"net/http"
	"strconv"

	"notifyd/internal/analytics"
)

const defaultDashboardDays = 7

// AnalyticsHandler serves aggregated delivery metrics.
type AnalyticsHandler struct {
	recorder *analytics.Recorder
}

func NewAnalyticsHandler(rec *analytics.Recorder) *AnalyticsHandler {
	return &AnalyticsHandler{recorder: rec}
}

func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	days := defaultDashboardDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 90 {
			http.Error(w, "Invalid days", http.StatusBadRequest)
			return
		}
		days = n
	}

	dashboard, err := h.recorder.DashboardMetrics(r.Context(), days)
	if err != nil {
		http.Error(w, "Failed to build dashboard", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

func (h *AnalyticsHandler) RealTime(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.recorder.RealTimeMetrics(r.Context())
	if err != nil {
		http.Error(w, "Failed to get realtime metrics", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}
