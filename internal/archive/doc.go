/*
Package archive builds zip downloads of catalogued files in the background.

Submit returns a job id (a time-ordered UUID) immediately; a goroutine
writes "<dir>/<id>.zip" with deflate at the configured level. Entry names
that collide inside one archive get the same "(n)" suffix used for moves.
Files missing on disk are skipped and counted. Callers poll Status or wait
on Done, then stream the file with Open.

Jobs are kept in a B-tree ordered by id, which lets Purge walk them oldest
first and stop at the first job still inside the retention window. Purge
also removes stale files in the directory that no job refers to.
*/
package archive
