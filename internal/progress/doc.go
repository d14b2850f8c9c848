// Package progress broadcasts sync progress from one producer to many
// listeners.
//
// Each sync session owns a Channel. The session publishes Events as it
// scans, processes, commits and deletes; HTTP event streams and the CLI
// subscribe to it. Progress updates are "latest wins" for slow listeners,
// while the terminal event is guaranteed and replayed to late subscribers
// until the channel tears down.
package progress
