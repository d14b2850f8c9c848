// Package fileops implements the batch file operations offered to gallery
// users: delete (optionally into a trash folder), move between folders,
// rename and favorites.
//
// Every operation changes the file on disk first and then the catalog, so a
// failure part way leaves at worst a stale entry that the next sync of the
// folder removes. Batch operations never stop at the first failing id; the
// returned Report lists each failure with its reason.
package fileops
