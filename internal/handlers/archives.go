package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"smart-gallery/internal/archive"
	"smart-gallery/internal/logging"
	"smart-gallery/internal/metrics"
	"smart-gallery/internal/streaming"
)

const (
	downloadWriteTimeout = 30 * time.Second
	downloadChunkSize    = 256 << 10
)

// CreateArchive queues a zip archive of the given files.
func (h *Handlers) CreateArchive(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.archives.Submit(req.IDs)
	switch {
	case errors.Is(err, archive.ErrNoFiles):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		logging.Error("CreateArchive: %v", err)
		writeJSONError(w, "failed to start archive", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/archives/"+id)
	writeJSONCode(w, http.StatusAccepted, map[string]string{
		"status": string(archive.StatusPending),
		"jobId":  id,
	})
}

// ArchiveStatus returns the state of an archive job.
func (h *Handlers) ArchiveStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.archives.Status(mux.Vars(r)["id"])
	if errors.Is(err, archive.ErrNotFound) {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONCode(w, http.StatusOK, info)
}

// ArchiveEvents streams one "done" event once the archive is ready or
// has failed.
func (h *Handlers) ArchiveEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	done, err := h.archives.Done(id)
	if errors.Is(err, archive.ErrNotFound) {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		logging.Error("ArchiveEvents: %v", err)
		return
	}
	defer stream.close()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			info, err := h.archives.Status(id)
			if err != nil {
				return
			}
			if err := stream.send("done", info); err != nil {
				logging.Debug("SSE client for archive %s went away: %v", id, err)
			}
			return
		case <-stream.heartbeat():
			if err := stream.comment("keepalive"); err != nil {
				return
			}
		}
	}
}

// DownloadArchive serves a finished archive.
func (h *Handlers) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, info, err := h.archives.Open(id)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, archive.ErrNotReady):
		writeJSONCode(w, http.StatusConflict, info)
		return
	case err != nil:
		logging.Error("DownloadArchive %s: %v", id, err)
		writeJSONError(w, "archive unavailable", http.StatusGone)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archive.FileName(id)+`"`)
	w.Header().Set("X-Archive-Files", strconv.Itoa(info.Files))
	modTime := info.CreatedAt
	if info.FinishedAt != nil {
		modTime = *info.FinishedAt
	}

	sw := streaming.NewWriter(w, streaming.Config{
		WriteTimeout: downloadWriteTimeout,
		ChunkSize:    downloadChunkSize,
		OnProgress:   func(n int) { metrics.ArchiveDownloadBytes.Add(float64(n)) },
	})
	defer sw.Close()
	http.ServeContent(&timeoutRecorder{Writer: sw, id: id}, r, archive.FileName(id), modTime, f)
	logging.Debug("Archive %s: sent %d bytes", id, sw.Written())
}

// timeoutRecorder counts downloads cut off by a stalled client.
type timeoutRecorder struct {
	*streaming.Writer
	id       string
	recorded bool
}

func (t *timeoutRecorder) Write(p []byte) (int, error) {
	n, err := t.Writer.Write(p)
	if errors.Is(err, streaming.ErrWriteTimeout) && !t.recorded {
		t.recorded = true
		metrics.ArchiveDownloadTimeouts.Inc()
		logging.Warn("Archive %s: client stopped reading, download abandoned", t.id)
	}
	return n, err
}
