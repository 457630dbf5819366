package game

import (
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when the server runs without a
// database, and by tests.
type MemoryStore struct {
	mu        sync.Mutex
	games     map[string]*State
	lastFetch map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:     make(map[string]*State),
		lastFetch: make(map[string]time.Time),
	}
}

func (m *MemoryStore) FindOrCreateGame(id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findOrCreateLocked(id), nil
}

func (m *MemoryStore) findOrCreateLocked(id string) *State {
	g, ok := m.games[id]
	if !ok {
		g = &State{ID: id, CreatedAt: time.Now()}
		m.games[id] = g
	}
	return g
}

func (m *MemoryStore) AddPlayer(gameID, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.findOrCreateLocked(gameID)
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			g.Players[i].Name = name
			return nil
		}
	}
	g.Players = append(g.Players, Player{UserID: userID, Name: name, JoinedAt: time.Now()})
	return nil
}

func (m *MemoryStore) RemovePlayer(gameID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil
	}
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			g.Players = append(g.Players[:i], g.Players[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) GetGameState(gameID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.findOrCreateLocked(gameID)
	out := *g
	out.Players = append([]Player(nil), g.Players...)
	return &out, nil
}

func (m *MemoryStore) GetNetworkDelta(gameID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[gameID]
	if !ok {
		return nil, nil
	}
	since := m.lastFetch[gameID]
	m.lastFetch[gameID] = time.Now()

	var joined []Player
	for _, p := range g.Players {
		if p.JoinedAt.After(since) {
			joined = append(joined, p)
		}
	}
	if len(joined) == 0 {
		return nil, nil
	}
	return json.Marshal(map[string]any{"joined": joined})
}
