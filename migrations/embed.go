// Package migrations embeds the SQLite schema migration files.
package migrations

import "embed"

// Files holds the SQLite migration SQL files, named NNN_description.sql.
//
//go:embed *.sql
var Files embed.FS
