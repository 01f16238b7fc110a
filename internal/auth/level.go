// Package auth provides authentication and authorization for VibeGate.
package auth

import "strings"

// Level is an ordered permission tier. Comparisons are always numeric:
// a caller may perform an operation when its effective Level is >= the
// operation's required Level.
type Level int

const (
	// LevelNone grants nothing. It is the fail-closed default for unknown
	// roles, missing mappings, and missing tenant ceilings.
	LevelNone Level = iota

	// LevelRead covers SELECT/SHOW and other read-only operations.
	LevelRead

	// LevelWrite covers DML: INSERT, UPDATE, DELETE, UPSERT, MERGE, COPY.
	LevelWrite

	// LevelSchema covers DDL: CREATE, ALTER, DROP (except schema-wide drops).
	LevelSchema

	// LevelAdmin covers administrative statements (TRUNCATE, GRANT, REVOKE,
	// VACUUM, REINDEX, CLUSTER, schema-level DDL) and the admin API.
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelNone:   "none",
	LevelRead:   "read",
	LevelWrite:  "write",
	LevelSchema: "schema",
	LevelAdmin:  "admin",
}

// String returns the lowercase name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "none"
}

// Allows reports whether a caller at this level may perform an operation
// requiring the given level.
func (l Level) Allows(required Level) bool {
	return l >= required
}

// ParseLevel parses a string into a Level. Unknown or empty strings parse to
// LevelNone (default deny), never to an error.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return LevelRead
	case "write":
		return LevelWrite
	case "schema":
		return LevelSchema
	case "admin":
		return LevelAdmin
	default:
		return LevelNone
	}
}

// ValidLevels returns all levels assignable through configuration.
func ValidLevels() []Level {
	return []Level{LevelNone, LevelRead, LevelWrite, LevelSchema, LevelAdmin}
}

// IsValidLevelName reports whether s names a defined level.
func IsValidLevelName(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "read", "write", "schema", "admin":
		return true
	default:
		return false
	}
}
