package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"smart-gallery/internal/database"
	"smart-gallery/internal/fileops"
	"smart-gallery/internal/filesystem"
	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/media"
)

type idsRequest struct {
	IDs []string `json:"ids"`
}

type moveRequest struct {
	IDs         []string `json:"ids"`
	Destination string   `json:"destination"`
}

type favoriteRequest struct {
	IDs    []string `json:"ids"`
	Status bool     `json:"status"`
}

type renameRequest struct {
	Name string `json:"name"`
}

// batchResponse is the body returned by delete and move.
type batchResponse struct {
	Status string `json:"status"`
	fileops.Report
}

func writeReport(w http.ResponseWriter, report fileops.Report) {
	writeJSONCode(w, http.StatusOK, batchResponse{
		Status: batchStatus(len(report.Failed)),
		Report: report,
	})
}

// DeleteFiles deletes files by id, or moves them to the trash folder.
func (h *Handlers) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.files.DeleteByIDs(r.Context(), req.IDs)
	switch {
	case errors.Is(err, fileops.ErrNoIDs):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logging.Error("DeleteFiles: %v", err)
		writeJSONError(w, "failed to delete files", http.StatusInternalServerError)
		return
	}
	writeReport(w, report)
}

// MoveFiles moves files by id into another folder.
func (h *Handlers) MoveFiles(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Destination == "" {
		writeJSONError(w, "destination folder is required", http.StatusBadRequest)
		return
	}

	report, err := h.files.MoveByIDs(r.Context(), req.IDs, req.Destination)
	switch {
	case errors.Is(err, fileops.ErrNoIDs):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, folders.ErrInvalidKey), errors.Is(err, folders.ErrOutsideBase):
		writeJSONError(w, "invalid destination folder", http.StatusBadRequest)
		return
	case err != nil:
		logging.Error("MoveFiles: %v", err)
		writeJSONError(w, "failed to move files", http.StatusInternalServerError)
		return
	}
	writeReport(w, report)
}

// SetFavorite sets or clears the favorite flag on a batch of files.
func (h *Handlers) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	n, err := h.files.SetFavorite(r.Context(), req.IDs, req.Status)
	switch {
	case errors.Is(err, fileops.ErrNoIDs):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logging.Error("SetFavorite: %v", err)
		writeJSONError(w, "failed to update favorites", http.StatusInternalServerError)
		return
	}
	writeJSONCode(w, http.StatusOK, map[string]interface{}{
		"status":  statusSuccess,
		"updated": n,
	})
}

// ToggleFavorite flips the favorite flag of one file.
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fav, err := h.files.ToggleFavorite(r.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	case err != nil:
		logging.Error("ToggleFavorite %s: %v", id, err)
		writeJSONError(w, "failed to toggle favorite", http.StatusInternalServerError)
		return
	}
	writeJSONCode(w, http.StatusOK, map[string]interface{}{
		"status":     statusSuccess,
		"id":         id,
		"isFavorite": fav,
	})
}

// RenameFile renames one file within its folder.
func (h *Handlers) RenameFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.files.Rename(r.Context(), id, req.Name)
	switch {
	case errors.Is(err, fileops.ErrInvalidName):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fileops.ErrNameTaken):
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, database.ErrNotFound):
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	case err != nil:
		logging.Error("RenameFile %s: %v", id, err)
		writeJSONError(w, "failed to rename file", http.StatusInternalServerError)
		return
	}
	writeJSONCode(w, http.StatusOK, map[string]interface{}{
		"status": statusSuccess,
		"file":   entry,
	})
}

// GetWorkflow returns a file's generation graph in API form.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.db.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("GetWorkflow %s: %v", id, err)
		writeJSONError(w, "failed to load file", http.StatusInternalServerError)
		return
	}

	graph, err := h.extractor.Extract(r.Context(), entry.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeJSONError(w, "file no longer exists on disk", http.StatusNotFound)
		return
	case errors.Is(err, os.ErrPermission):
		writeJSONError(w, "file is outside the gallery", http.StatusForbidden)
		return
	case err != nil:
		logging.Warn("GetWorkflow %s: %v", entry.Path, err)
		writeJSONError(w, "failed to read workflow", http.StatusInternalServerError)
		return
	case graph == nil:
		writeJSONError(w, "no workflow found in file", http.StatusNotFound)
		return
	}

	data, err := graph.APIJSON()
	if err != nil {
		writeJSONError(w, "failed to encode workflow", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `inline; filename="`+entry.Name+`.json"`)
	if _, err := w.Write(data); err != nil {
		logging.Debug("GetWorkflow write: %v", err)
	}
}

// GetThumbnail serves a file's cached preview, generating it when missing.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.db.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("GetThumbnail %s: %v", id, err)
		writeJSONError(w, "failed to load file", http.StatusInternalServerError)
		return
	}
	if !entry.Type.Capabilities().Thumbnail {
		writeJSONError(w, "file type has no preview", http.StatusNotFound)
		return
	}

	hash := entry.ThumbHash
	if hash == "" {
		hash = folders.ThumbHash(entry.Path, entry.ModTime)
	}

	path, format, err := h.preview(r, entry, hash)
	if err != nil {
		var te *media.ThumbnailError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			writeJSONError(w, "file no longer exists on disk", http.StatusNotFound)
		case errors.As(err, &te):
			writeJSONError(w, te.Error(), http.StatusUnprocessableEntity)
		default:
			logging.Error("GetThumbnail %s: %v", entry.Path, err)
			writeJSONError(w, "failed to generate preview", http.StatusInternalServerError)
		}
		return
	}

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		writeJSONError(w, "preview unavailable", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/"+format)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("ETag", `"`+hash+`"`)
	http.ServeContent(w, r, entry.Name+"."+format, time.Unix(entry.ModTime, 0), f)
}

func (h *Handlers) preview(r *http.Request, entry *database.Entry, hash string) (string, string, error) {
	if h.thumbs == nil {
		return "", "", fs.ErrNotExist
	}
	if path, format, ok := h.thumbs.Cached(hash); ok {
		return path, format, nil
	}
	if _, err := os.Stat(entry.Path); err != nil {
		return "", "", err
	}
	return h.thumbs.Ensure(r.Context(), entry.Path, entry.Type, hash)
}
