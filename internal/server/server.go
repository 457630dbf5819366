// Package server wires the connection registry, message router, entity
// state store, and combat coordinator into a running sync service.
package server

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rollforge/vtt/server/internal/chatfilter"
	"github.com/rollforge/vtt/server/internal/combat"
	"github.com/rollforge/vtt/server/internal/config"
	"github.com/rollforge/vtt/server/internal/flood"
	"github.com/rollforge/vtt/server/internal/game"
	"github.com/rollforge/vtt/server/internal/logger"
	"github.com/rollforge/vtt/server/internal/message"
	"github.com/rollforge/vtt/server/internal/registry"
	"github.com/rollforge/vtt/server/internal/state"
)

// EntitySaver is the write-behind persistence hook for entity snapshots.
type EntitySaver interface {
	SaveEntities(entities []state.Entity) error
}

// handlerFunc processes one routed message for a connection. conn is a
// snapshot taken at dispatch time.
type handlerFunc func(conn registry.Connection, env *message.Envelope)

// Server is the authoritative sync process for its games.
type Server struct {
	serverConfig *config.ServerConfig
	registry     *registry.Registry
	store        *state.Store
	coordinator  *combat.Coordinator
	games        game.Store
	saver        EntitySaver
	connLimiter  *ConnLimiter
	chatFilter   *chatfilter.Filter
	handlers     map[string]handlerFunc

	floodMu       sync.Mutex
	floodTrackers map[string]*flood.Tracker

	// extension receives messages of unknown type instead of rejecting
	// them, for forward compatibility. Guarded by extMu; connection
	// goroutines read it on every unknown frame.
	extMu     sync.RWMutex
	extension func(conn registry.Connection, env *message.Envelope)

	httpServer   *http.Server
	shutdown     chan struct{}
	shutdownOnce sync.Once
	StartTime    time.Time
}

// NewServer assembles a server from its collaborators. saver may be nil
// when persistence is disabled.
func NewServer(cfg *config.ServerConfig, games game.Store, encounters combat.Store, saver EntitySaver) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		serverConfig: cfg,
		registry:     registry.New(),
		store: state.NewStoreWith(
			time.Duration(cfg.Sync.ConflictWindowMS)*time.Millisecond,
			cfg.Sync.HistoryLimit,
			time.Duration(cfg.Sync.HistoryTTLSeconds)*time.Second,
		),
		coordinator:   combat.NewCoordinator(encounters),
		games:         games,
		saver:         saver,
		connLimiter:   NewConnLimiter(cfg.Connections),
		chatFilter:    chatfilter.New(&cfg.ChatFilter),
		floodTrackers: make(map[string]*flood.Tracker),
		shutdown:      make(chan struct{}),
		StartTime:     time.Now(),
	}
	s.registerHandlers()
	return s
}

// Registry exposes the connection registry for introspection.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Store exposes the entity state store for introspection.
func (s *Server) Store() *state.Store {
	return s.store
}

// Coordinator exposes the combat turn coordinator.
func (s *Server) Coordinator() *combat.Coordinator {
	return s.coordinator
}

// SetExtension installs the hook that receives unknown message types.
// Safe to call while connections are live.
func (s *Server) SetExtension(fn func(conn registry.Connection, env *message.Envelope)) {
	s.extMu.Lock()
	s.extension = fn
	s.extMu.Unlock()
}

// Start runs the HTTP listener and the background loops. Blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start(address string) error {
	go s.startBroadcastLoop()
	go s.startLivenessLoop()
	go s.startAutoSaveLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocketUpgrade)
	s.httpServer = &http.Server{Addr: address, Handler: mux}

	logger.Info("Sync server listening", "address", address)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the background loops, closes every connection, and
// stops the listener. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		for _, id := range s.registry.AllConnections() {
			s.registry.Unregister(id)
		}
		if s.httpServer != nil {
			s.httpServer.Close()
		}
		logger.Info("Sync server stopped", "uptime", time.Since(s.StartTime).String())
	})
}

// handleWebSocketUpgrade upgrades an HTTP connection and starts the
// per-connection read loop.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	clientIP := getRealIP(r)

	if !s.connLimiter.TryAcquire(clientIP) {
		logger.Warning("Connection rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", clientIP)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.serverConfig.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("Connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "error", err)
		s.connLimiter.Release(clientIP)
		return
	}

	if max := s.serverConfig.WebSocket.MaxMessageSize; max > 0 {
		wsConn.SetReadLimit(max)
	}

	go func() {
		defer s.connLimiter.Release(clientIP)
		client := NewWebSocketClient(wsConn, time.Duration(s.serverConfig.Sync.WriteTimeoutMS)*time.Millisecond)
		s.serveClient(client)
	}()
}

// readClient is the transport read half used by the connection loop.
type readClient interface {
	registry.Client
	ReadMessage() ([]byte, error)
}

// serveClient registers the client and pumps its messages through the
// router until the transport dies.
func (s *Server) serveClient(client readClient) {
	connID := s.registry.Register(client)
	logger.Info("Client connected",
		"connection_id", connID,
		"remote_addr", client.RemoteAddr())

	defer func() {
		s.disconnect(connID)
		logger.Info("Client disconnected", "connection_id", connID)
	}()

	for {
		data, err := client.ReadMessage()
		if err != nil {
			return
		}
		s.registry.Touch(connID)
		s.Handle(connID, data)
	}
}

// disconnect runs the shared cleanup path for explicit closes, transport
// failures, and liveness timeouts: roster removal, departure broadcast,
// then unregistration. Cancelling one connection never touches delta
// bookkeeping or other connections.
func (s *Server) disconnect(connID string) {
	conn, ok := s.registry.Get(connID)
	if ok && conn.GameID != "" && conn.UserID != "" {
		if err := s.games.RemovePlayer(conn.GameID, conn.UserID); err != nil {
			logger.Warning("Failed to remove player from roster",
				"game_id", conn.GameID, "user_id", conn.UserID, "error", err)
		}
		s.broadcastToGame(conn.GameID, message.New(message.TypePlayerLeft, map[string]any{
			"userId": conn.UserID,
			"name":   conn.DisplayName,
		}), connID)
	}
	s.registry.Unregister(connID)

	s.floodMu.Lock()
	delete(s.floodTrackers, connID)
	s.floodMu.Unlock()
}

// floodTracker returns the chat flood tracker for a connection,
// creating it on first use.
func (s *Server) floodTracker(connID string) *flood.Tracker {
	s.floodMu.Lock()
	defer s.floodMu.Unlock()
	t, ok := s.floodTrackers[connID]
	if !ok {
		t = flood.NewTracker(s.serverConfig.Chat)
		s.floodTrackers[connID] = t
	}
	return t
}

// send marshals and delivers a message to one connection.
func (s *Server) send(connID string, msg *message.Outbound) {
	data, err := msg.Marshal()
	if err != nil {
		logger.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	s.registry.SendTo(connID, data)
}

// sendError delivers an error payload to the origin connection only.
func (s *Server) sendError(connID, code, text string) {
	s.send(connID, message.NewError(code, text))
}

// broadcastToGame delivers a message to every connection in a game,
// excluding the origin when excludeID is non-empty.
func (s *Server) broadcastToGame(gameID string, msg *message.Outbound, excludeID string) {
	data, err := msg.Marshal()
	if err != nil {
		logger.Error("Failed to marshal broadcast", "type", msg.Type, "error", err)
		return
	}
	s.registry.BroadcastToGame(gameID, data, excludeID)
}

// broadcastToSession delivers a message to every connection in a session.
func (s *Server) broadcastToSession(sessionID string, msg *message.Outbound, excludeID string) {
	if sessionID == "" {
		return
	}
	data, err := msg.Marshal()
	if err != nil {
		logger.Error("Failed to marshal broadcast", "type", msg.Type, "error", err)
		return
	}
	s.registry.BroadcastToSession(sessionID, data, excludeID)
}

// OnlineCount returns the number of live connections.
func (s *Server) OnlineCount() int {
	return s.registry.Count()
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

func (s *Server) String() string {
	return fmt.Sprintf("sync server (connections=%d uptime=%s)", s.OnlineCount(), s.Uptime().Round(time.Second))
}
