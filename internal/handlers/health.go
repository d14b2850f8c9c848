package handlers

import (
	"net/http"
	"runtime"
	"time"

	"smart-gallery/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Ready            bool   `json:"ready"`
	Version          string `json:"version"`
	Uptime           string `json:"uptime"`
	Syncing          bool   `json:"syncing"`
	Watching         bool   `json:"watching"`
	LastSynced       string `json:"lastSynced,omitempty"`
	InitialSyncError string `json:"initialSyncError,omitempty"`
	ActiveSessions   int    `json:"activeSessions"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	TotalFiles   int `json:"totalFiles,omitempty"`
	TotalFolders int `json:"totalFolders,omitempty"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.indexer.GetHealthStatus()

	response := HealthResponse{
		Ready:        status.Ready,
		Version:      startup.Version,
		Uptime:       status.Uptime,
		Syncing:      status.Indexing,
		Watching:     status.Watching,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	for _, s := range status.Sessions {
		if !s.State.Terminal() {
			response.ActiveSessions++
		}
	}

	if status.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}
	if !status.LastIndexed.IsZero() {
		response.LastSynced = status.LastIndexed.Format(time.RFC3339)
	}
	if status.InitialSyncError != "" {
		response.InitialSyncError = status.InitialSyncError
		response.Status = statusDegraded
	}

	if stats, err := h.db.Stats(r.Context()); err == nil {
		response.TotalFiles = stats.Total
		response.TotalFolders = stats.Folders
	}

	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSONCode(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the initial sync has finished
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.indexer.IsReady() {
		writeJSONCode(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSONCode(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}
