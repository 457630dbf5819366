package database

import (
	"fmt"
	"strings"
)

// PostgresDialect implements Dialect for PostgreSQL databases.
type PostgresDialect struct{}

// DriverName returns "postgres" for the lib/pq driver.
func (d *PostgresDialect) DriverName() string {
	return "postgres"
}

// Placeholder returns "$N" for the given position.
func (d *PostgresDialect) Placeholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

// InitStatements returns nothing; PostgreSQL needs no per-connection
// setup for this schema.
func (d *PostgresDialect) InitStatements() []string {
	return nil
}

// UpsertConflictClause returns the PostgreSQL ON CONFLICT clause.
func (d *PostgresDialect) UpsertConflictClause(target, update string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", target, update)
}

// IsDuplicateKeyError reports whether the error is a PostgreSQL unique
// violation (error code 23505).
func (d *PostgresDialect) IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "unique constraint")
}
