package state

import (
	"sync"
	"time"
)

const (
	// DefaultConflictWindow is the critical-field concurrency window.
	DefaultConflictWindow = time.Second

	// historyLimit caps retained sync-history entries per entity.
	historyLimit = 100

	// historyTTL is how long history entries survive before the sweep
	// purges them.
	historyTTL = 5 * time.Minute
)

// historyEntry is one recorded partial update.
type historyEntry struct {
	patch    *Patch
	originID string
	at       time.Time
}

// gameDelta accumulates entity changes for one game between broadcast
// ticks.
type gameDelta struct {
	created map[string]struct{}
	updated map[string]struct{}
	removed map[string]struct{}
}

func (d *gameDelta) empty() bool {
	return len(d.created) == 0 && len(d.updated) == 0 && len(d.removed) == 0
}

// Result is the outcome of an Apply call.
type Result struct {
	// Entity is a copy of the stored state after the call. On rejection
	// it equals the authoritative state.
	Entity Entity

	// Created reports that this update brought the entity into existence;
	// new entities need a full sync, not a delta.
	Created bool

	// Unknown reports that the entity id belongs to another game. The
	// caller sees it as nonexistent; Entity is left zero so no state
	// crosses game boundaries.
	Unknown bool

	// Rejection is non-nil when the conflict resolver refused the update.
	Rejection *Rejection
}

// Delta is the drained change set for one game since the previous drain.
type Delta struct {
	Created []Entity `json:"created,omitempty"`
	Updated []Entity `json:"updated,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Store is the authoritative entity-state mapping. All mutation goes
// through Apply, the single atomic read-modify-write primitive; handlers
// must never fetch a snapshot and write it back separately.
type Store struct {
	mu       sync.Mutex
	entities map[string]*Entity
	history  map[string][]historyEntry
	deltas   map[string]*gameDelta
	window   time.Duration
	limit    int
	ttl      time.Duration
}

// NewStore creates a store with the default conflict window.
func NewStore() *Store {
	return NewStoreWith(DefaultConflictWindow, historyLimit, historyTTL)
}

// NewStoreWith creates a store with explicit tuning, used by tests and
// the config layer.
func NewStoreWith(window time.Duration, limit int, ttl time.Duration) *Store {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	if limit <= 0 {
		limit = historyLimit
	}
	if ttl <= 0 {
		ttl = historyTTL
	}
	return &Store{
		entities: make(map[string]*Entity),
		history:  make(map[string][]historyEntry),
		deltas:   make(map[string]*gameDelta),
		window:   window,
		limit:    limit,
		ttl:      ttl,
	}
}

// Apply merges a partial update into the entity, creating it with
// defaults on first contact. Known entities are first checked against the
// conflict resolver; a rejection leaves stored state untouched and
// returns the authoritative copy for the originator.
func (s *Store) Apply(gameID, entityID string, p *Patch, originID string, ts time.Time) Result {
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[entityID]
	if !ok {
		ent = newEntity(entityID, gameID)
		ent.apply(p)
		ent.Version = 1
		ent.LastUpdate = ts
		s.entities[entityID] = ent
		s.appendHistoryLocked(entityID, p, originID, ts)
		s.deltaLocked(gameID).created[entityID] = struct{}{}
		return Result{Entity: ent.clone(), Created: true}
	}

	if ent.GameID != gameID {
		// Entity ids are globally unique but games are isolated; an id
		// owned by another game is invisible to this caller.
		return Result{Unknown: true}
	}

	if rej := resolve(ent, p, ts, s.window); rej != nil {
		return Result{Entity: rej.Authoritative, Rejection: rej}
	}

	ent.apply(p)
	ent.Version++
	ent.LastUpdate = ts
	s.appendHistoryLocked(entityID, p, originID, ts)

	d := s.deltaLocked(ent.GameID)
	// An entity created and updated within one tick stays in the created
	// list; the full sync supersedes the delta.
	if _, created := d.created[entityID]; !created {
		d.updated[entityID] = struct{}{}
	}
	return Result{Entity: ent.clone()}
}

// Get returns a copy of the entity state.
func (s *Store) Get(entityID string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entities[entityID]
	if !ok {
		return Entity{}, false
	}
	return ent.clone(), true
}

// Remove tombstones the entity and records it in the game's removed
// list for the next delta. Entities are never hard-deleted. An entity
// owned by another game is treated as nonexistent.
func (s *Store) Remove(gameID, entityID string, ts time.Time) (Entity, bool) {
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entities[entityID]
	if !ok || !ent.Active || ent.GameID != gameID {
		return Entity{}, false
	}
	ent.Active = false
	ent.Version++
	ent.LastUpdate = ts

	d := s.deltaLocked(ent.GameID)
	delete(d.created, entityID)
	delete(d.updated, entityID)
	d.removed[entityID] = struct{}{}
	return ent.clone(), true
}

// GameEntities returns copies of every active entity in a game.
func (s *Store) GameEntities(gameID string) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entity
	for _, ent := range s.entities {
		if ent.GameID == gameID && ent.Active {
			out = append(out, ent.clone())
		}
	}
	return out
}

// DrainDelta returns the accumulated change set for a game and resets
// the bookkeeping. Draining a game with no changes returns ok=false and
// mutates nothing.
func (s *Store) DrainDelta(gameID string) (Delta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deltas[gameID]
	if !ok || d.empty() {
		return Delta{}, false
	}
	delete(s.deltas, gameID)

	var out Delta
	for id := range d.created {
		if ent, ok := s.entities[id]; ok {
			out.Created = append(out.Created, ent.clone())
		}
	}
	for id := range d.updated {
		if ent, ok := s.entities[id]; ok {
			out.Updated = append(out.Updated, ent.clone())
		}
	}
	for id := range d.removed {
		out.Removed = append(out.Removed, id)
	}
	return out, true
}

// deltaLocked returns the delta accumulator for a game, creating it on
// first use. Caller holds s.mu.
func (s *Store) deltaLocked(gameID string) *gameDelta {
	d, ok := s.deltas[gameID]
	if !ok {
		d = &gameDelta{
			created: make(map[string]struct{}),
			updated: make(map[string]struct{}),
			removed: make(map[string]struct{}),
		}
		s.deltas[gameID] = d
	}
	return d
}

// appendHistoryLocked records an accepted update in the bounded
// per-entity ring. Caller holds s.mu.
func (s *Store) appendHistoryLocked(entityID string, p *Patch, originID string, ts time.Time) {
	ring := append(s.history[entityID], historyEntry{patch: p, originID: originID, at: ts})
	if len(ring) > s.limit {
		ring = ring[len(ring)-s.limit:]
	}
	s.history[entityID] = ring
}

// SweepHistory purges history entries older than the retention TTL.
// Called from the slow maintenance loop.
func (s *Store) SweepHistory(now time.Time) {
	cutoff := now.Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ring := range s.history {
		idx := 0
		for idx < len(ring) && ring[idx].at.Before(cutoff) {
			idx++
		}
		if idx == 0 {
			continue
		}
		if idx == len(ring) {
			delete(s.history, id)
			continue
		}
		s.history[id] = append([]historyEntry(nil), ring[idx:]...)
	}
}

// UpdateRate returns the entity's accepted updates per second over the
// given trailing window, derived from sync history.
func (s *Store) UpdateRate(entityID string, window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.history[entityID] {
		if !entry.at.Before(cutoff) {
			count++
		}
	}
	return float64(count) / window.Seconds()
}

// HistoryLen reports the retained history depth for an entity.
func (s *Store) HistoryLen(entityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[entityID])
}
