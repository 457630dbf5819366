package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rollforge/vtt/server/internal/game"
)

// FindOrCreateGame returns the game record, inserting it on first
// reference.
func (d *Database) FindOrCreateGame(id string) (*game.State, error) {
	p := d.dialect.Placeholder

	query := fmt.Sprintf(`INSERT INTO games (id) VALUES (%s) %s`,
		p(1), d.dialect.UpsertConflictClause("id", "id = excluded.id"))
	if _, err := d.db.Exec(query, id); err != nil {
		return nil, fmt.Errorf("failed to create game %s: %w", id, err)
	}

	return d.GetGameState(id)
}

// AddPlayer upserts a player into the game roster.
func (d *Database) AddPlayer(gameID, userID, name string) error {
	if _, err := d.FindOrCreateGame(gameID); err != nil {
		return err
	}

	p := d.dialect.Placeholder
	query := fmt.Sprintf(
		`INSERT INTO game_players (game_id, user_id, name, joined_at) VALUES (%s, %s, %s, %s) %s`,
		p(1), p(2), p(3), p(4),
		d.dialect.UpsertConflictClause("game_id, user_id", "name = excluded.name"))
	if _, err := d.db.Exec(query, gameID, userID, name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to add player %s to game %s: %w", userID, gameID, err)
	}
	return nil
}

// RemovePlayer removes a player from the roster. Removing an absent
// player is a no-op.
func (d *Database) RemovePlayer(gameID, userID string) error {
	p := d.dialect.Placeholder
	query := fmt.Sprintf(`DELETE FROM game_players WHERE game_id = %s AND user_id = %s`, p(1), p(2))
	if _, err := d.db.Exec(query, gameID, userID); err != nil {
		return fmt.Errorf("failed to remove player %s from game %s: %w", userID, gameID, err)
	}
	return nil
}

// GetGameState returns the game record with its full roster.
func (d *Database) GetGameState(gameID string) (*game.State, error) {
	p := d.dialect.Placeholder

	state := &game.State{ID: gameID}
	query := fmt.Sprintf(`SELECT created_at FROM games WHERE id = %s`, p(1))
	err := d.db.QueryRow(query, gameID).Scan(&state.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("game %s not found", gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", gameID, err)
	}

	query = fmt.Sprintf(
		`SELECT user_id, name, joined_at FROM game_players WHERE game_id = %s ORDER BY joined_at`, p(1))
	rows, err := d.db.Query(query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster for game %s: %w", gameID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var pl game.Player
		if err := rows.Scan(&pl.UserID, &pl.Name, &pl.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		state.Players = append(state.Players, pl)
	}
	return state, rows.Err()
}

// GetNetworkDelta returns roster entries added since the previous call
// for this game, encoded for the wire. Returns nil when nothing changed.
func (d *Database) GetNetworkDelta(gameID string) (json.RawMessage, error) {
	d.deltaMu.Lock()
	since := d.lastDelta[gameID]
	now := time.Now().UTC()
	d.lastDelta[gameID] = now
	d.deltaMu.Unlock()

	p := d.dialect.Placeholder
	query := fmt.Sprintf(
		`SELECT user_id, name, joined_at FROM game_players WHERE game_id = %s AND joined_at > %s`,
		p(1), p(2))
	rows, err := d.db.Query(query, gameID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster delta for game %s: %w", gameID, err)
	}
	defer rows.Close()

	var joined []game.Player
	for rows.Next() {
		var pl game.Player
		if err := rows.Scan(&pl.UserID, &pl.Name, &pl.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		joined = append(joined, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(joined) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]any{"joined": joined})
}
