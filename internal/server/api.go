package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/egat-monitor/internal/models"
	"github.com/afroash/egat-monitor/internal/storage"
)

// APIHandler handles HTTP API requests for the dashboard
type APIHandler struct {
	dashboard *Dashboard
	logger    zerolog.Logger
	version   string
	started   time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(dashboard *Dashboard, version string, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		dashboard: dashboard,
		logger:    logger,
		version:   version,
		started:   time.Now(),
	}
}

// Register adds the API routes to mux
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/snapshot", api.HandleSnapshot)
	mux.HandleFunc("/api/current", api.HandleCurrent)
	mux.HandleFunc("/api/history", api.HandleHistory)
	mux.HandleFunc("/api/stats", api.HandleStats)
	mux.HandleFunc("/api/runs", api.HandleRuns)
	mux.HandleFunc("/health", api.HandleHealth)
}

// HandleSnapshot returns the full dashboard snapshot
func (api *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	contamination, err := ParseContamination(r.URL.Query().Get("contamination"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	snap, err := api.dashboard.Snapshot(r.Context(), contamination)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to build snapshot")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "history table could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleCurrent returns the latest reading and whether it is anomalous
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	contamination, err := ParseContamination(r.URL.Query().Get("contamination"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	snap, err := api.dashboard.Snapshot(r.Context(), contamination)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to build snapshot")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "history table could not be loaded")
		return
	}
	if snap.Latest == nil {
		writeError(w, http.StatusNotFound, "no_data", "no readings available")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Reading *models.Reading `json:"reading"`
		Anomaly bool            `json:"anomaly"`
	}{snap.Latest, snap.LatestAnomaly})
}

// HandleHistory returns recent readings, newest first
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := api.dashboard.Settings().MaxDisplayPoints
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	rows, err := api.dashboard.History(r.Context(), limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to load history")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "history table could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// StatsResponse combines loader and ledger statistics
type StatsResponse struct {
	Loader    LoaderStats           `json:"loader"`
	Ledger    *storage.StorageStats `json:"ledger,omitempty"`
	LastRun   *models.RunRecord     `json:"last_success,omitempty"`
	Window    models.SnapshotStats  `json:"window"`
	TotalRows int                   `json:"total_rows"`
}

// HandleStats returns window statistics plus loader and ledger counters
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Loader: api.dashboard.loader.Stats()}

	if snap, err := api.dashboard.Snapshot(r.Context(), 0); err == nil {
		resp.Window = snap.Stats
		resp.TotalRows = snap.TotalRows
	} else {
		api.logger.Warn().Err(err).Msg("Stats without window statistics")
	}

	if ledger := api.dashboard.ledger; ledger != nil {
		if stats, err := ledger.GetStorageStats(); err == nil {
			resp.Ledger = stats
		} else {
			api.logger.Warn().Err(err).Msg("Failed to read ledger stats")
		}
		if last, err := ledger.GetLatestSuccess(); err == nil {
			resp.LastRun = last
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleRuns returns the latest pipeline runs from the ledger
func (api *APIHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	ledger := api.dashboard.ledger
	if ledger == nil {
		writeError(w, http.StatusNotFound, "ledger_disabled", "run ledger is not enabled")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	runs, err := ledger.ListRuns(limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "ledger_error", "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleHealth reports liveness
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats := api.dashboard.loader.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    api.version,
		"uptime":     time.Since(api.started).Round(time.Second).String(),
		"last_load":  stats.LastLoad,
		"last_error": stats.LastError,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorMessage{Code: code, Message: message})
}
