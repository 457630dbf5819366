package database

import (
	"encoding/json"
	"fmt"

	"github.com/rollforge/vtt/server/internal/state"
)

// SaveEntities upserts entity snapshots. Called by the server's
// write-behind persistence loop; the in-memory store stays authoritative
// between saves.
func (d *Database) SaveEntities(entities []state.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	p := d.dialect.Placeholder
	query := fmt.Sprintf(
		`INSERT INTO entities (id, game_id, state, version, active, updated_at) VALUES (%s, %s, %s, %s, %s, %s) %s`,
		p(1), p(2), p(3), p(4), p(5), p(6),
		d.dialect.UpsertConflictClause("id",
			"state = excluded.state, version = excluded.version, active = excluded.active, updated_at = excluded.updated_at"))

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin entity save: %w", err)
	}
	defer tx.Rollback()

	for _, ent := range entities {
		blob, err := json.Marshal(ent)
		if err != nil {
			return fmt.Errorf("failed to marshal entity %s: %w", ent.ID, err)
		}
		if _, err := tx.Exec(query, ent.ID, ent.GameID, string(blob), ent.Version,
			boolToInt(ent.Active), ent.LastUpdate.UTC()); err != nil {
			return fmt.Errorf("failed to save entity %s: %w", ent.ID, err)
		}
	}

	return tx.Commit()
}

// LoadEntities reads back every active entity snapshot for a game.
func (d *Database) LoadEntities(gameID string) ([]state.Entity, error) {
	p := d.dialect.Placeholder
	query := fmt.Sprintf(`SELECT state FROM entities WHERE game_id = %s AND active = 1`, p(1))

	rows, err := d.db.Query(query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []state.Entity
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		var ent state.Entity
		if err := json.Unmarshal([]byte(blob), &ent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}
