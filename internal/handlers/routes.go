package handlers

import "github.com/gorilla/mux"

// Register adds the health probes and the /api routes to r.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	api.HandleFunc("/folders/{key}/files", h.ListFiles).Methods("GET")
	api.HandleFunc("/folders/{key}/sync", h.StartSync).Methods("POST")

	api.HandleFunc("/sync/all", h.SyncAll).Methods("POST")
	api.HandleFunc("/sync/{session}", h.SessionStatus).Methods("GET")
	api.HandleFunc("/sync/{session}/events", h.SessionEvents).Methods("GET")

	api.HandleFunc("/files/delete", h.DeleteFiles).Methods("POST")
	api.HandleFunc("/files/move", h.MoveFiles).Methods("POST")
	api.HandleFunc("/files/favorite", h.SetFavorite).Methods("POST")
	api.HandleFunc("/files/{id}/favorite/toggle", h.ToggleFavorite).Methods("POST")
	api.HandleFunc("/files/{id}/rename", h.RenameFile).Methods("POST")
	api.HandleFunc("/files/{id}/workflow", h.GetWorkflow).Methods("GET")
	api.HandleFunc("/files/{id}/thumbnail", h.GetThumbnail).Methods("GET")

	api.HandleFunc("/archives", h.CreateArchive).Methods("POST")
	api.HandleFunc("/archives/{id}", h.ArchiveStatus).Methods("GET")
	api.HandleFunc("/archives/{id}/events", h.ArchiveEvents).Methods("GET")
	api.HandleFunc("/archives/{id}/download", h.DownloadArchive).Methods("GET")
}
