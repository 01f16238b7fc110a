// Package postgres embeds the PostgreSQL schema migration files.
package postgres

import "embed"

// Files holds the PostgreSQL migration SQL files, named NNN_description.up.sql.
//
//go:embed *.up.sql
var Files embed.FS
