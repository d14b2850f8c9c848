package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"smart-gallery/internal/database"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/mediatypes"
)

// ListFiles returns one page of a folder from the catalog.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key := mux.Vars(r)["key"]
	q := r.URL.Query()

	opts := database.ListOptions{
		Sort:          mediatypes.SortField(q.Get("sort")),
		Order:         mediatypes.SortOrder(q.Get("order")),
		Type:          mediatypes.FileType(q.Get("type")),
		FavoritesOnly: q.Get("favorites") == "true",
		Page:          1,
		PageSize:      100,
	}
	switch opts.Sort {
	case "", mediatypes.SortByName, mediatypes.SortByModTime:
	default:
		writeJSONError(w, "sort must be name or mtime", http.StatusBadRequest)
		return
	}
	switch opts.Order {
	case "", mediatypes.SortAsc, mediatypes.SortDesc:
	default:
		writeJSONError(w, "order must be asc or desc", http.StatusBadRequest)
		return
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		opts.Page = page
	}
	if pageSize, err := strconv.Atoi(q.Get("pageSize")); err == nil && pageSize > 0 {
		opts.PageSize = pageSize
	}
	if stale := q.Get("stale"); stale != "" {
		d, err := time.ParseDuration(stale)
		if err != nil || d < 0 {
			writeJSONError(w, "stale must be a duration such as 1h", http.StatusBadRequest)
			return
		}
		before := time.Now().Add(-d)
		opts.StaleBefore = &before
	}

	if _, err := folders.Dir(h.coord.BaseDir(), key); err != nil {
		writeJSONError(w, "invalid folder key", http.StatusBadRequest)
		return
	}

	listing, err := h.db.ListFolder(r.Context(), key, opts)
	if err != nil {
		logging.Error("ListFiles %s: %v", key, err)
		writeJSONError(w, "failed to list folder", http.StatusInternalServerError)
		return
	}

	logging.Debug("ListFiles %s completed in %v, %d items", key, time.Since(start), len(listing.Items))
	writeJSONCode(w, http.StatusOK, listing)
}

type syncRequest struct {
	Mode string `json:"mode"`
}

// parseMode reads the sync mode from the body or the "mode" query parameter.
func parseMode(r *http.Request) (indexer.Mode, error) {
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	if req.Mode == "" {
		req.Mode = r.URL.Query().Get("mode")
	}
	return indexer.ParseMode(req.Mode)
}

// StartSync starts a sync of one folder, or attaches to the one already
// running, and returns the session id.
func (h *Handlers) StartSync(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	mode, err := parseMode(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.coord.StartSync(r.Context(), key, mode)
	switch {
	case errors.Is(err, indexer.ErrUnknownFolder):
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, indexer.ErrStopped):
		writeJSONError(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		logging.Error("StartSync %s: %v", key, err)
		writeJSONError(w, "failed to start sync", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/sync/"+s.ID)
	writeJSONCode(w, http.StatusAccepted, s.Info())
}

// SyncAll starts a sync of every folder in the background.
func (h *Handlers) SyncAll(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.indexer.IsIndexing() {
		writeJSONCode(w, http.StatusConflict, map[string]string{
			"status": "already_running",
		})
		return
	}

	h.indexer.TriggerIndex(mode)
	writeJSONCode(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"mode":   string(mode),
	})
}

// SessionStatus returns a snapshot of a sync session.
func (h *Handlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.coord.Session(mux.Vars(r)["session"])
	if !ok {
		writeJSONError(w, "sync session not found", http.StatusNotFound)
		return
	}
	writeJSONCode(w, http.StatusOK, s.Info())
}

// SessionEvents streams a session's progress as server-sent events. The
// stream ends after the terminal "done" event.
func (h *Handlers) SessionEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.coord.Session(mux.Vars(r)["session"])
	if !ok {
		writeJSONError(w, "sync session not found", http.StatusNotFound)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		logging.Error("SessionEvents: %v", err)
		return
	}
	defer stream.close()

	events, cancel := s.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			name := "progress"
			if ev.Done {
				name = "done"
			}
			if err := stream.send(name, ev); err != nil {
				logging.Debug("SSE client for %s went away: %v", s.ID, err)
				return
			}
			if ev.Done {
				return
			}
		case <-stream.heartbeat():
			if err := stream.comment("keepalive"); err != nil {
				return
			}
		}
	}
}
