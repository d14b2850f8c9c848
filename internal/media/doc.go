// Package media reads the contents of generated media files.
//
// The Extractor finds embedded generation parameter graphs in PNG text
// chunks, EXIF blocks, container tags reported by ffprobe, and as a last
// resort anywhere in the raw bytes of a file. Graphs in editor (UI) form are
// converted to execution (API) form so that models, adapters and input files
// can be derived the same way for both. It also probes dimensions, duration
// and capture dates.
//
// The ThumbnailGenerator renders bounded previews:
//   - Images: libvips when initialized, otherwise the pure-Go imaging path
//   - Animated images and videos: animated WebP via ffmpeg, or a still frame
//   - Audio: unsupported
//
// Previews are cached on disk as <hash>.<format>, where the hash covers the
// source path and modification time.
package media
