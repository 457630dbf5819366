// Package registry owns the set of live client connections and the
// secondary indices used to address them by session, user, or game.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollforge/vtt/server/internal/logger"
)

// Client is the transport half of a connection. Implementations must be
// safe for concurrent writes and must enforce their own write deadline;
// a write error is treated as a dead transport.
type Client interface {
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// Connection is one live transport session. Fields are owned by the
// Registry and mutated only under its lock; callers receive copies.
type Connection struct {
	ID           string
	Client       Client
	UserID       string
	DisplayName  string
	SessionID    string
	GameID       string
	IsGM         bool
	LastActivity time.Time
	LastPong     time.Time
}

// Registry is the single owning structure for all live connections.
// The session and user indices are maintained in lockstep with the
// primary map so they can never diverge.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	bySession map[string]map[string]struct{}
	byUser    map[string]map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		bySession: make(map[string]map[string]struct{}),
		byUser:    make(map[string]map[string]struct{}),
	}
}

// Register adds a client and returns its server-generated connection id.
func (r *Registry) Register(client Client) string {
	id := uuid.NewString()
	now := time.Now()

	r.mu.Lock()
	r.conns[id] = &Connection{
		ID:           id,
		Client:       client,
		LastActivity: now,
		LastPong:     now,
	}
	r.mu.Unlock()

	return id
}

// Unregister removes a connection and drops it from every index.
// Calling it again for the same id is a no-op. Returns true if the
// connection was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.dropIndexLocked(r.bySession, conn.SessionID, id)
	r.dropIndexLocked(r.byUser, conn.UserID, id)
	delete(r.conns, id)
	r.mu.Unlock()

	conn.Client.Close()
	return true
}

// dropIndexLocked removes id from the given index set, deleting the set
// when it empties. Caller holds r.mu.
func (r *Registry) dropIndexLocked(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	if set, ok := index[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

// addIndexLocked adds id to the given index set. Caller holds r.mu.
func (r *Registry) addIndexLocked(index map[string]map[string]struct{}, key, id string) {
	if key == "" {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[id] = struct{}{}
}

// Get returns a copy of the connection record.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// SetUser attaches a validated user identity to the connection and
// re-indexes it.
func (r *Registry) SetUser(id, userID, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	r.dropIndexLocked(r.byUser, conn.UserID, id)
	conn.UserID = userID
	conn.DisplayName = displayName
	r.addIndexLocked(r.byUser, userID, id)
	return true
}

// SetSession attaches a session id to the connection and re-indexes it.
func (r *Registry) SetSession(id, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	r.dropIndexLocked(r.bySession, conn.SessionID, id)
	conn.SessionID = sessionID
	r.addIndexLocked(r.bySession, sessionID, id)
	return true
}

// SetGame records which game the connection is scoped to. An empty id
// detaches it.
func (r *Registry) SetGame(id, gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.GameID = gameID
	return true
}

// SetGM marks the connection as belonging to the game master.
func (r *Registry) SetGM(id string, isGM bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.IsGM = isGM
	return true
}

// Touch records inbound activity on the connection.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if conn, ok := r.conns[id]; ok {
		conn.LastActivity = time.Now()
	}
	r.mu.Unlock()
}

// MarkPong records a liveness probe response.
func (r *Registry) MarkPong(id string) {
	r.mu.Lock()
	if conn, ok := r.conns[id]; ok {
		conn.LastPong = time.Now()
	}
	r.mu.Unlock()
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ConnectionsForSession returns the connection ids scoped to a session.
func (r *Registry) ConnectionsForSession(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysOf(r.bySession[sessionID])
}

// ConnectionsForUser returns the connection ids for a user. A user may
// hold several at once (multiple tabs or devices).
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keysOf(r.byUser[userID])
}

// ConnectionsForGame returns the connection ids scoped to a game.
func (r *Registry) ConnectionsForGame(gameID string) []string {
	if gameID == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, conn := range r.conns {
		if conn.GameID == gameID {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveGames returns the distinct game ids with at least one connection.
func (r *Registry) ActiveGames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, conn := range r.conns {
		if conn.GameID != "" {
			seen[conn.GameID] = struct{}{}
		}
	}
	return keysOf(seen)
}

// AllConnections returns every live connection id.
func (r *Registry) AllConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// StaleConnections returns ids with no inbound activity and no probe
// response since the cutoff.
func (r *Registry) StaleConnections(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, conn := range r.conns {
		if conn.LastActivity.Before(cutoff) && conn.LastPong.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func keysOf(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// SendTo writes a message to a single connection. A failed write closes
// the transport; the connection's read loop then observes the dead
// transport and runs the standard disconnect cleanup, so a write
// failure tears down exactly like an explicit close.
func (r *Registry) SendTo(id string, data []byte) bool {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := conn.Client.WriteMessage(data); err != nil {
		logger.Warning("Write failed, closing connection",
			"connection_id", id,
			"remote_addr", conn.Client.RemoteAddr(),
			"error", err)
		conn.Client.Close()
		return false
	}
	return true
}

// broadcastTo delivers data to every listed connection except the
// excluded origin. A write failure on one connection never aborts
// delivery to the rest. Returns the number of successful deliveries.
func (r *Registry) broadcastTo(ids []string, data []byte, excludeID string) int {
	sent := 0
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		if r.SendTo(id, data) {
			sent++
		}
	}
	return sent
}

// BroadcastToGame delivers data to every connection in a game, excluding
// the origin connection if excludeID is non-empty.
func (r *Registry) BroadcastToGame(gameID string, data []byte, excludeID string) int {
	return r.broadcastTo(r.ConnectionsForGame(gameID), data, excludeID)
}

// BroadcastToSession delivers data to every connection in a session.
func (r *Registry) BroadcastToSession(sessionID string, data []byte, excludeID string) int {
	return r.broadcastTo(r.ConnectionsForSession(sessionID), data, excludeID)
}

// BroadcastToUser delivers data to every connection a user holds.
func (r *Registry) BroadcastToUser(userID string, data []byte, excludeID string) int {
	return r.broadcastTo(r.ConnectionsForUser(userID), data, excludeID)
}

// BroadcastAll delivers data to every live connection.
func (r *Registry) BroadcastAll(data []byte, excludeID string) int {
	return r.broadcastTo(r.AllConnections(), data, excludeID)
}
