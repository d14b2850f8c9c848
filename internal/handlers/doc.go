// Package handlers provides the HTTP API of the gallery.
//
// Routes are grouped as:
//   - health probes and version
//   - folder listings and sync sessions, with progress streamed as
//     server-sent events
//   - batch file operations: delete, move, favorite, rename
//   - workflow and thumbnail access for single files
//   - zip archive jobs and their downloads
package handlers
