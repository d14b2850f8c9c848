/*
Package filesystem wraps the filesystem operations the catalog pipeline
depends on.

Stat, Open and ReadDir are retried with exponential backoff when a network
mount reports a stale file handle (ESTALE); any other error is returned
immediately. Retry attempts, failures and durations are recorded in the
metrics package.

The package also implements the file moves used by batch operations:
UniquePath picks a non-conflicting destination name ("photo(1).png"),
MoveFile falls back to copy and remove across devices, and RemoveFile either
deletes a file or moves it into a trash folder.
*/
package filesystem
