// Package database provides SQL persistence for game rosters, entity
// snapshots, and combat encounters. It supports SQLite for embedded use
// and PostgreSQL for hosted deployments behind a shared dialect layer.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rollforge/vtt/server/internal/config"
)

// Database wraps the SQL connection and provides persistence operations.
type Database struct {
	db      *sql.DB
	dialect Dialect

	// lastDelta tracks the per-game roster-delta cursor. Held in memory;
	// a restart re-sends the full roster once, which is harmless.
	deltaMu   sync.Mutex
	lastDelta map[string]time.Time
}

// Open connects to the database described by the config and runs
// migrations. SQLite paths have their parent directory created.
func Open(cfg config.DatabaseConfig) (*Database, error) {
	dialect := NewDialect(DialectType(cfg.Driver))

	dsn := cfg.DSN
	if dialect.DriverName() == "sqlite" {
		dsn = cfg.Path
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	d := &Database{
		db:        db,
		dialect:   dialect,
		lastDelta: make(map[string]time.Time),
	}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// migrate creates the schema if it doesn't exist.
func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS game_players (
			game_id TEXT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (game_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			state TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			active INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS encounters (
			id TEXT PRIMARY KEY,
			game_id TEXT NOT NULL,
			round INTEGER NOT NULL DEFAULT 1,
			turn INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			ended_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS encounter_participants (
			encounter_id TEXT NOT NULL REFERENCES encounters(id) ON DELETE CASCADE,
			entity_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			initiative INTEGER NOT NULL DEFAULT 0,
			sort_order INTEGER NOT NULL DEFAULT 0,
			acted INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (encounter_id, entity_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_entities_game_id ON entities(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_encounters_game_id ON encounters(game_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// DB returns the underlying sql.DB for advanced operations.
func (d *Database) DB() *sql.DB {
	return d.db
}
