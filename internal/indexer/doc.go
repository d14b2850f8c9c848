// Package indexer keeps the media catalog in step with the output
// directory.
//
// Work is organised per folder key: each key maps to exactly one directory
// level, and a sync session diffs that directory against the catalog and
// processes the difference:
//   - Scanner lists the directory (non-recursive, hidden entries skipped)
//     and produces the paths to process, the ids to delete and the ids whose
//     scan time only needs refreshing.
//   - Coordinator runs sessions. Requests for a folder that is already
//     syncing attach to the running session. Files are processed by a
//     bounded worker pool; results are committed in batches by a single
//     writer while the next batch fills. Deletions are applied only after
//     every batch has committed, and a cancelled session discards whatever
//     its workers were still finishing.
//   - Indexer drives the coordinator in the background: an initial sync of
//     every folder, new-file detection through fsnotify (or directory mtime
//     polling when watching is unavailable) and an optional scheduled
//     rescan.
//
// Modes:
//   - full: new and modified files are processed, everything else refreshed
//   - recent: only entries not scanned within the staleness window count
//   - missing: only files without an entry (or without a preview)
//
// Progress for each session is published on a progress.Channel that HTTP
// event streams and the CLI subscribe to.
package indexer
