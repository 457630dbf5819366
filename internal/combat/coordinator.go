// Package combat implements the encounter turn-order state machine:
// initiative order, round/turn counters, and per-turn acted flags.
package combat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollforge/vtt/server/internal/logger"
)

var (
	// ErrNoParticipants is returned when starting an encounter with an
	// empty participant list.
	ErrNoParticipants = errors.New("encounter requires at least one participant")

	// ErrNotActive is returned when advancing or ending an encounter
	// that is not running.
	ErrNotActive = errors.New("no active encounter")

	// ErrNoEncounter is returned for operations on a game with no
	// encounter record at all.
	ErrNoEncounter = errors.New("encounter not found")
)

// Participant is one combatant in initiative order.
type Participant struct {
	EntityID   string `json:"entityId"`
	Name       string `json:"name,omitempty"`
	Initiative int    `json:"initiative"`
	Acted      bool   `json:"acted"`
}

// Encounter is a campaign-scoped combat aggregate. Turn is 0-based and
// wraps to 0 with a round increment.
type Encounter struct {
	ID           string        `json:"id"`
	GameID       string        `json:"gameId"`
	Participants []Participant `json:"participants"`
	Round        int           `json:"round"`
	Turn         int           `json:"turn"`
	Active       bool          `json:"active"`
	StartedAt    time.Time     `json:"startedAt"`
}

func (e *Encounter) clone() Encounter {
	out := *e
	out.Participants = append([]Participant(nil), e.Participants...)
	return out
}

// Store persists coordinator decisions at state-machine boundaries.
// Persistence failures are logged and never block a transition.
type Store interface {
	CreateEncounter(enc *Encounter) error
	UpdateEncounter(enc *Encounter) error
	EndEncounter(id string) error
}

// Coordinator governs one encounter per game. All transitions are
// serialized under a single lock; only the coordinator mutates
// turn/round counters.
type Coordinator struct {
	mu         sync.Mutex
	encounters map[string]*Encounter // by game id
	store      Store
}

// NewCoordinator creates a coordinator. store may be nil when
// persistence is disabled.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{
		encounters: make(map[string]*Encounter),
		store:      store,
	}
}

// Start begins a new encounter for the game: participants sorted by
// initiative descending, round 1, turn 0, acted flags cleared. A
// previous encounter for the game is discarded.
func (c *Coordinator) Start(gameID string, participants []Participant) (Encounter, error) {
	if len(participants) == 0 {
		return Encounter{}, ErrNoParticipants
	}

	ordered := append([]Participant(nil), participants...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Initiative > ordered[j].Initiative
	})
	for i := range ordered {
		ordered[i].Acted = false
	}

	enc := &Encounter{
		ID:           uuid.NewString(),
		GameID:       gameID,
		Participants: ordered,
		Round:        1,
		Turn:         0,
		Active:       true,
		StartedAt:    time.Now(),
	}

	c.mu.Lock()
	c.encounters[gameID] = enc
	out := enc.clone()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.CreateEncounter(&out); err != nil {
			logger.Error("Failed to persist encounter start",
				"game_id", gameID, "encounter_id", out.ID, "error", err)
		}
	}
	return out, nil
}

// AdvanceTurn moves to the next participant. Reaching the end of the
// order wraps to turn 0, increments the round, and clears every
// participant's acted flag (once per round, not once per turn).
func (c *Coordinator) AdvanceTurn(gameID string) (Encounter, error) {
	c.mu.Lock()
	enc, ok := c.encounters[gameID]
	if !ok || !enc.Active {
		c.mu.Unlock()
		return Encounter{}, ErrNotActive
	}

	enc.Turn++
	if enc.Turn >= len(enc.Participants) {
		enc.Turn = 0
		enc.Round++
		for i := range enc.Participants {
			enc.Participants[i].Acted = false
		}
	}
	out := enc.clone()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.UpdateEncounter(&out); err != nil {
			logger.Error("Failed to persist turn advance",
				"game_id", gameID, "encounter_id", out.ID, "error", err)
		}
	}
	return out, nil
}

// End deactivates the encounter. Round and turn are retained for
// inspection; no further advancement is permitted until a new Start.
func (c *Coordinator) End(gameID string) (Encounter, error) {
	c.mu.Lock()
	enc, ok := c.encounters[gameID]
	if !ok || !enc.Active {
		c.mu.Unlock()
		return Encounter{}, ErrNotActive
	}
	enc.Active = false
	out := enc.clone()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.EndEncounter(out.ID); err != nil {
			logger.Error("Failed to persist encounter end",
				"game_id", gameID, "encounter_id", out.ID, "error", err)
		}
	}
	return out, nil
}

// MarkActed flags a participant as having taken their turn this round.
func (c *Coordinator) MarkActed(gameID, entityID string) error {
	c.mu.Lock()
	enc, ok := c.encounters[gameID]
	if !ok || !enc.Active {
		c.mu.Unlock()
		return ErrNotActive
	}
	for i := range enc.Participants {
		if enc.Participants[i].EntityID == entityID {
			enc.Participants[i].Acted = true
			out := enc.clone()
			c.mu.Unlock()
			if c.store != nil {
				if err := c.store.UpdateEncounter(&out); err != nil {
					logger.Error("Failed to persist acted flag",
						"game_id", gameID, "encounter_id", out.ID, "error", err)
				}
			}
			return nil
		}
	}
	c.mu.Unlock()
	return ErrNoEncounter
}

// Current returns a copy of the game's encounter, active or not.
func (c *Coordinator) Current(gameID string) (Encounter, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc, ok := c.encounters[gameID]
	if !ok {
		return Encounter{}, false
	}
	return enc.clone(), true
}
