package database

import (
	"errors"
	"time"

	"smart-gallery/internal/mediatypes"
)

// ErrNotFound is returned when a lookup matches no catalog entry.
var ErrNotFound = errors.New("catalog entry not found")

// Entry is one catalogued file. ModTime, LastScanned and MediaCreatedAt are
// unix seconds.
type Entry struct {
	ID             string              `json:"id"`
	Path           string              `json:"path"`
	FolderKey      string              `json:"folderKey"`
	Name           string              `json:"name"`
	ModTime        int64               `json:"mtime"`
	Type           mediatypes.FileType `json:"type"`
	Duration       string              `json:"duration,omitempty"`
	Dimensions     string              `json:"dimensions,omitempty"`
	HasWorkflow    bool                `json:"hasWorkflow"`
	IsFavorite     bool                `json:"isFavorite"`
	Size           int64               `json:"size"`
	LastScanned    int64               `json:"lastScanned"`
	Models         []string            `json:"models,omitempty"`
	Loras          []string            `json:"loras,omitempty"`
	InputFiles     []string            `json:"inputFiles,omitempty"`
	MediaCreatedAt *int64              `json:"mediaCreatedAt,omitempty"`
	ThumbHash      string              `json:"-"`
	ThumbFormat    string              `json:"thumbFormat,omitempty"`
}

// Snapshot is the part of an entry the scanner needs to decide whether a
// file must be reprocessed.
type Snapshot struct {
	ID          string
	ModTime     int64
	LastScanned int64
}

// ListOptions controls ListFolder. Sort and Order are explicit; the zero
// values mean name ascending.
type ListOptions struct {
	Sort  mediatypes.SortField
	Order mediatypes.SortOrder
	// StaleBefore, when set, keeps only entries last scanned before it.
	StaleBefore   *time.Time
	Type          mediatypes.FileType
	FavoritesOnly bool
	Page          int
	PageSize      int
}

// Listing is one page of a folder.
type Listing struct {
	FolderKey  string  `json:"folderKey"`
	Items      []Entry `json:"items"`
	TotalItems int     `json:"totalItems"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

// Stats summarises the catalog.
type Stats struct {
	Total        int            `json:"total"`
	ByType       map[string]int `json:"byType"`
	Favorites    int            `json:"favorites"`
	WithWorkflow int            `json:"withWorkflow"`
	Folders      int            `json:"folders"`
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)
