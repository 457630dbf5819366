package database

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite databases.
type SQLiteDialect struct{}

// DriverName returns "sqlite" for the modernc.org/sqlite driver.
func (d *SQLiteDialect) DriverName() string {
	return "sqlite"
}

// Placeholder returns "?" for all positions.
func (d *SQLiteDialect) Placeholder(position int) string {
	return "?"
}

// InitStatements returns SQLite PRAGMA statements for operation under
// concurrent access.
func (d *SQLiteDialect) InitStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
}

// UpsertConflictClause returns the SQLite ON CONFLICT clause.
func (d *SQLiteDialect) UpsertConflictClause(target, update string) string {
	return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", target, update)
}

// IsDuplicateKeyError reports whether the error is a SQLite UNIQUE
// constraint violation.
func (d *SQLiteDialect) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
