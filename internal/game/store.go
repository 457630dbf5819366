// Package game defines the storage collaborator for game and roster
// records. The sync core treats the Store as authoritative and only
// forwards what it returns.
package game

import (
	"encoding/json"
	"time"
)

// Player is one roster entry.
type Player struct {
	UserID   string    `json:"userId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// State is the full game record handed to joiners.
type State struct {
	ID        string    `json:"id"`
	Players   []Player  `json:"players"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence collaborator. Implementations guarantee
// durability and referential integrity; the sync core does not.
type Store interface {
	// FindOrCreateGame returns the game record, creating it on first
	// reference.
	FindOrCreateGame(id string) (*State, error)

	// AddPlayer upserts a player into the game roster.
	AddPlayer(gameID, userID, name string) error

	// RemovePlayer removes a player from the roster. Removing an absent
	// player is a no-op.
	RemovePlayer(gameID, userID string) error

	// GetGameState returns the current full game record.
	GetGameState(gameID string) (*State, error)

	// GetNetworkDelta returns the roster changes since the previous
	// call for the game, already encoded for the wire. The sync core
	// forwards it opaquely.
	GetNetworkDelta(gameID string) (json.RawMessage, error)
}
