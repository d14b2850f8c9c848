// Package main provides the entry point for the Smart Gallery server.
//
// Smart Gallery keeps a SQLite catalog of the images, animations, videos
// and audio files below BASE_OUTPUT_PATH, with the generation workflow
// embedded in each file, and serves it over a JSON API.
//
// # Application Lifecycle
//
//  1. Configuration: environment variables, optionally overlaid on an INI
//     file (see package startup)
//  2. Memory: GOMEMLIMIT from MEMORY_LIMIT and a heap monitor that holds
//     back sync work under pressure
//  3. Catalog: opens or rebuilds the SQLite database
//  4. Media tools: libvips, ffprobe and ffmpeg detection
//  5. Sync: coordinator, initial full sync in the background, then change
//     watching (fsnotify, falling back to polling) and scheduled rescans
//  6. Archives: zip job manager with a retention janitor
//  7. HTTP: routes, compression, request logging and metrics middleware
//  8. Graceful shutdown on SIGINT/SIGTERM
//
// # Graceful Shutdown
//
//  1. Stop the metrics collector
//  2. Stop sync; running sessions are cancelled and their event streams end
//  3. Stop archive jobs
//  4. Shut down the HTTP server (30s timeout)
//  5. Stop the memory monitor and libvips
//  6. Close the catalog
//
// # Build Requirements
//
// CGO is required for SQLite and libvips:
//
//	go build -o smart-gallery ./cmd/smart-gallery
//
// # Related Packages
//
//   - [smart-gallery/internal/indexer]: sync coordinator, scanner and watcher
//   - [smart-gallery/internal/database]: SQLite catalog
//   - [smart-gallery/internal/media]: workflow extraction and previews
//   - [smart-gallery/internal/handlers]: HTTP API
//   - [smart-gallery/internal/startup]: configuration and startup logging
package main
