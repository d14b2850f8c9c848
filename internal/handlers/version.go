package handlers

import (
	"net/http"

	"smart-gallery/internal/database"
	"smart-gallery/internal/media"
	"smart-gallery/internal/startup"
)

// VersionResponse is the build plus the catalog and toolchain it runs with.
type VersionResponse struct {
	startup.BuildInfo
	SchemaVersion int  `json:"schemaVersion"`
	Libvips       bool `json:"libvips"`
}

// GetVersion returns build information, the expected catalog schema version
// and whether libvips is in use.
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONCode(w, http.StatusOK, VersionResponse{
		BuildInfo:     startup.GetBuildInfo(),
		SchemaVersion: database.SchemaVersion,
		Libvips:       media.IsVipsAvailable(),
	})
}
