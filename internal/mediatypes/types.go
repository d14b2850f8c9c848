package mediatypes

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileType represents the kind of a catalogued media file.
type FileType string

const (
	// FileTypeImage represents a still raster image.
	FileTypeImage FileType = "image"
	// FileTypeAnimatedImage represents a GIF or animated WebP.
	FileTypeAnimatedImage FileType = "animated_image"
	// FileTypeVideo represents a video container.
	FileTypeVideo FileType = "video"
	// FileTypeAudio represents an audio file.
	FileTypeAudio FileType = "audio"
	// FileTypeUnknown represents anything the catalog does not track.
	FileTypeUnknown FileType = "unknown"
)

// SortField specifies which field to sort by.
type SortField string

// SortOrder specifies the direction of sorting.
type SortOrder string

const (
	// SortByName sorts results by filename.
	SortByName SortField = "name"
	// SortByModTime sorts results by modification time.
	SortByModTime SortField = "mtime"

	// SortAsc sorts in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts in descending order.
	SortDesc SortOrder = "desc"
)

// Capabilities describes what the pipeline can do with a file type.
type Capabilities struct {
	// Extract is true when the type can carry an embedded parameter graph.
	Extract bool
	// Thumbnail is true when a preview image can be produced.
	Thumbnail bool
	// Animated is true when the preview may be animated.
	Animated bool
	// Probe is true when structural attributes come from the external prober.
	Probe bool
}

var capabilities = map[FileType]Capabilities{
	FileTypeImage:         {Extract: true, Thumbnail: true},
	FileTypeAnimatedImage: {Extract: true, Thumbnail: true, Animated: true},
	FileTypeVideo:         {Extract: true, Thumbnail: true, Animated: true, Probe: true},
	FileTypeAudio:         {Probe: true},
	FileTypeUnknown:       {},
}

// Capabilities returns the capability record for the type.
func (t FileType) Capabilities() Capabilities {
	return capabilities[t]
}

// extensionTypes maps lowercase extensions to file types. ".webp" is
// resolved by content since it may be still or animated.
var extensionTypes = map[string]FileType{
	".png":  FileTypeImage,
	".jpg":  FileTypeImage,
	".jpeg": FileTypeImage,
	".gif":  FileTypeAnimatedImage,
	".webp": FileTypeImage,
	".mp4":  FileTypeVideo,
	".webm": FileTypeVideo,
	".mov":  FileTypeVideo,
	".mkv":  FileTypeVideo,
	".avi":  FileTypeVideo,
	".mp3":  FileTypeAudio,
	".wav":  FileTypeAudio,
	".ogg":  FileTypeAudio,
	".flac": FileTypeAudio,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// GetFileType returns the FileType for a lowercase extension including the
// leading dot. WebP is reported as a still image; use Resolve to inspect the
// container.
func GetFileType(ext string) FileType {
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return FileTypeUnknown
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsMediaFile returns true if the extension represents a tracked media file.
func IsMediaFile(ext string) bool {
	return GetFileType(ext) != FileTypeUnknown
}

// Ext returns the lowercase extension of a path.
func Ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// Resolve determines the file type of path once at ingestion. WebP files are
// opened to check for an animation chunk.
func Resolve(path string) FileType {
	ext := Ext(path)
	t := GetFileType(ext)
	if ext != ".webp" {
		return t
	}

	f, err := os.Open(path)
	if err != nil {
		return t
	}
	defer f.Close()

	if IsAnimatedWebP(f) {
		return FileTypeAnimatedImage
	}
	return t
}

// IsAnimatedWebP reports whether r holds a RIFF/WEBP container with an ANIM
// chunk or the animation flag set in its VP8X header.
func IsAnimatedWebP(r io.Reader) bool {
	header := make([]byte, 4096)
	n, _ := io.ReadFull(r, header)
	header = header[:n]

	if len(header) < 12 || !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WEBP")) {
		return false
	}
	if len(header) >= 21 && bytes.Equal(header[12:16], []byte("VP8X")) && header[20]&0x02 != 0 {
		return true
	}
	return bytes.Contains(header[12:], []byte("ANIM"))
}
