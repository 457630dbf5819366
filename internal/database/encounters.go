package database

import (
	"fmt"
	"time"

	"github.com/rollforge/vtt/server/internal/combat"
)

// CreateEncounter persists a freshly started encounter and its
// participant order.
func (d *Database) CreateEncounter(enc *combat.Encounter) error {
	p := d.dialect.Placeholder

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin encounter transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`INSERT INTO encounters (id, game_id, round, turn, active, started_at) VALUES (%s, %s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5), p(6))
	if _, err := tx.Exec(query, enc.ID, enc.GameID, enc.Round, enc.Turn, boolToInt(enc.Active), enc.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert encounter %s: %w", enc.ID, err)
	}

	query = fmt.Sprintf(
		`INSERT INTO encounter_participants (encounter_id, entity_id, name, initiative, sort_order, acted) VALUES (%s, %s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5), p(6))
	for i, part := range enc.Participants {
		if _, err := tx.Exec(query, enc.ID, part.EntityID, part.Name, part.Initiative, i, boolToInt(part.Acted)); err != nil {
			return fmt.Errorf("failed to insert participant %s: %w", part.EntityID, err)
		}
	}

	return tx.Commit()
}

// UpdateEncounter persists round/turn counters and acted flags after a
// coordinator transition.
func (d *Database) UpdateEncounter(enc *combat.Encounter) error {
	p := d.dialect.Placeholder

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin encounter transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`UPDATE encounters SET round = %s, turn = %s, active = %s WHERE id = %s`,
		p(1), p(2), p(3), p(4))
	if _, err := tx.Exec(query, enc.Round, enc.Turn, boolToInt(enc.Active), enc.ID); err != nil {
		return fmt.Errorf("failed to update encounter %s: %w", enc.ID, err)
	}

	query = fmt.Sprintf(
		`UPDATE encounter_participants SET acted = %s WHERE encounter_id = %s AND entity_id = %s`,
		p(1), p(2), p(3))
	for _, part := range enc.Participants {
		if _, err := tx.Exec(query, boolToInt(part.Acted), enc.ID, part.EntityID); err != nil {
			return fmt.Errorf("failed to update participant %s: %w", part.EntityID, err)
		}
	}

	return tx.Commit()
}

// EndEncounter marks an encounter inactive, retaining counters for
// inspection.
func (d *Database) EndEncounter(id string) error {
	p := d.dialect.Placeholder
	query := fmt.Sprintf(`UPDATE encounters SET active = 0, ended_at = %s WHERE id = %s`, p(1), p(2))
	if _, err := d.db.Exec(query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to end encounter %s: %w", id, err)
	}
	return nil
}

// LoadEncounter reads an encounter and its participants back, used by
// GM tooling and tests.
func (d *Database) LoadEncounter(id string) (*combat.Encounter, error) {
	p := d.dialect.Placeholder

	enc := &combat.Encounter{ID: id}
	var active int
	query := fmt.Sprintf(
		`SELECT game_id, round, turn, active, started_at FROM encounters WHERE id = %s`, p(1))
	err := d.db.QueryRow(query, id).Scan(&enc.GameID, &enc.Round, &enc.Turn, &active, &enc.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load encounter %s: %w", id, err)
	}
	enc.Active = active != 0

	query = fmt.Sprintf(
		`SELECT entity_id, name, initiative, acted FROM encounter_participants WHERE encounter_id = %s ORDER BY sort_order`,
		p(1))
	rows, err := d.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var part combat.Participant
		var acted int
		if err := rows.Scan(&part.EntityID, &part.Name, &part.Initiative, &acted); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		part.Acted = acted != 0
		enc.Participants = append(enc.Participants, part)
	}
	return enc, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
