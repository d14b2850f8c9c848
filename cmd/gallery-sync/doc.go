// Command gallery-sync syncs and inspects the gallery catalog from the
// command line, using the same configuration as the server.
//
// Usage:
//
//	gallery-sync <command> [flags]
//
// Commands:
//
//	sync [folder]  Sync one folder. --mode selects full, recent (default)
//	               or missing. Progress is redrawn in place on a terminal.
//	sync-all       Sync every folder below BASE_OUTPUT_PATH.
//	list [folder]  Print one page of a folder's catalog entries.
//	               Flags: --sort, --order, --page, --page-size,
//	               --favorites, --type.
//	stats          Print catalog counts and the last full sync time.
//
// A folder is a path relative to BASE_OUTPUT_PATH, an absolute path below
// it, or a folder key as used by the HTTP API.
//
// Environment:
//
//	BASE_OUTPUT_PATH - gallery root (required)
//	CONFIG_FILE      - optional INI file, overridden by --config
package main
