// Package migrations embeds the PostgreSQL schema migrations of billsync.
// File names follow golang-migrate's <version>_<name>.<up|down>.sql layout.
package migrations

import "embed"

// FS holds every migration file
//
//go:embed *.sql
var FS embed.FS
