package handlers

import (
	"net/http"
	"time"

	"smart-gallery/internal/database"
	"smart-gallery/internal/logging"
)

// StatsResponse is the catalog summary served by GetStats.
type StatsResponse struct {
	database.Stats
	LastFullSync   *time.Time `json:"lastFullSync,omitempty"`
	Syncing        bool       `json:"syncing"`
	ActiveSessions int        `json:"activeSessions"`
	ArchiveJobs    int        `json:"archiveJobs"`
}

// GetStats returns catalog counts and sync activity.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error("GetStats: %v", err)
		writeJSONError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Stats:   stats,
		Syncing: h.indexer.IsIndexing() || h.coord.Running(),
	}
	if last, err := h.db.GetLastFullSync(r.Context()); err == nil && !last.IsZero() {
		resp.LastFullSync = &last
	}
	for _, s := range h.coord.Sessions() {
		if !s.State.Terminal() {
			resp.ActiveSessions++
		}
	}
	if h.archives != nil {
		resp.ArchiveJobs = h.archives.Len()
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSONCode(w, http.StatusOK, resp)
}
