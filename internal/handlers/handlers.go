package handlers

import (
	"smart-gallery/internal/archive"
	"smart-gallery/internal/database"
	"smart-gallery/internal/fileops"
	"smart-gallery/internal/indexer"
	"smart-gallery/internal/media"
)

// Handlers serves the HTTP API.
type Handlers struct {
	db        *database.Database
	indexer   *indexer.Indexer
	coord     *indexer.Coordinator
	files     *fileops.Manager
	archives  *archive.Manager
	extractor *media.Extractor
	thumbs    *media.ThumbnailGenerator
}

// Deps are the components the handlers drive. Thumbs may be nil, in which
// case previews are served only from the cache.
type Deps struct {
	DB        *database.Database
	Indexer   *indexer.Indexer
	Files     *fileops.Manager
	Archives  *archive.Manager
	Extractor *media.Extractor
	Thumbs    *media.ThumbnailGenerator
}

// New creates the handlers.
func New(d Deps) *Handlers {
	return &Handlers{
		db:        d.DB,
		indexer:   d.Indexer,
		coord:     d.Indexer.Coordinator(),
		files:     d.Files,
		archives:  d.Archives,
		extractor: d.Extractor,
		thumbs:    d.Thumbs,
	}
}
