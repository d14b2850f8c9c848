// Package folders maps between directories under the gallery base path and
// the identifiers the catalog uses for them.
//
// A folder key names exactly one directory level: "_root_" for the base
// directory, otherwise the URL-safe base64 of the slash-separated path
// relative to the base. File identifiers are the hex MD5 of the absolute
// path, so a moved or renamed file gets a new identity. Every decode goes
// through Within, which rejects paths that leave the base directory.
package folders
