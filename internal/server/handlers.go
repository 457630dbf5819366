package server

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rollforge/vtt/server/internal/combat"
	"github.com/rollforge/vtt/server/internal/logger"
	"github.com/rollforge/vtt/server/internal/message"
	"github.com/rollforge/vtt/server/internal/registry"
	"github.com/rollforge/vtt/server/internal/state"
)

// registerHandlers populates the dispatch table. Routing is an explicit
// map from message type to handler so ordering and failure semantics
// stay visible in one place.
func (s *Server) registerHandlers() {
	s.handlers = map[string]handlerFunc{
		message.TypePing:           s.handlePing,
		message.TypePong:           s.handlePong,
		message.TypeJoinGame:       s.handleJoinGame,
		message.TypeLeaveGame:      s.handleLeaveGame,
		message.TypeMoveToken:      s.handleMoveToken,
		message.TypeTokenAdd:       s.handleTokenAdd,
		message.TypeTokenRemove:    s.handleTokenRemove,
		message.TypeSceneUpdate:    s.handleSceneUpdate,
		message.TypeCombatStart:    s.handleCombatStart,
		message.TypeCombatNextTurn: s.handleCombatNextTurn,
		message.TypeCombatEnd:      s.handleCombatEnd,
		message.TypeCombatUpdate:   s.handleCombatUpdate,
		message.TypeRollDice:       s.handleRollDice,
		message.TypeChatMessage:    s.handleChatMessage,
	}
}

// Handle decodes and dispatches one inbound message for a connection.
// Malformed bytes and handler panics are reported to the origin only;
// neither ever crashes the router loop.
func (s *Server) Handle(connID string, raw []byte) {
	env, err := message.Decode(raw)
	if err != nil {
		s.sendError(connID, message.CodeInvalidJSON, "message could not be parsed")
		return
	}

	conn, ok := s.registry.Get(connID)
	if !ok {
		return
	}

	// Session and user hints on the envelope attach lazily so a client
	// does not need a separate identify round-trip.
	if env.SessionID != "" && env.SessionID != conn.SessionID {
		s.registry.SetSession(connID, env.SessionID)
		conn.SessionID = env.SessionID
	}
	if env.UserID != "" && conn.UserID == "" {
		s.registry.SetUser(connID, env.UserID, conn.DisplayName)
		conn.UserID = env.UserID
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked",
				"type", env.Type,
				"connection_id", connID,
				"panic", r)
			s.sendError(connID, message.CodeInternalError, "internal error")
		}
	}()

	handler, ok := s.handlers[env.Type]
	if !ok {
		// Unknown types are forwarded, not rejected, so clients can ship
		// new message kinds ahead of the server.
		s.extMu.RLock()
		ext := s.extension
		s.extMu.RUnlock()
		if ext != nil {
			ext(conn, env)
		} else {
			logger.Debug("Unhandled message type", "type", env.Type, "connection_id", connID)
		}
		return
	}
	handler(conn, env)
}

// decodePayload unmarshals the envelope payload into dst. An
// undecodable payload is reported to the origin and never reaches the
// store or the game's peers. A missing payload decodes to the zero
// value so handlers keep one validation path for absent fields.
func (s *Server) decodePayload(connID string, env *message.Envelope, dst any) bool {
	if env.Payload == nil {
		return true
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		s.sendError(connID, message.CodeInvalidJSON, "payload could not be decoded")
		return false
	}
	return true
}

func (s *Server) handlePing(conn registry.Connection, env *message.Envelope) {
	s.registry.MarkPong(conn.ID)
	reply := message.New(message.TypePong, nil)
	reply.RequestID = env.RequestID
	s.send(conn.ID, reply)
}

// handlePong records a liveness probe response.
func (s *Server) handlePong(conn registry.Connection, env *message.Envelope) {
	s.registry.MarkPong(conn.ID)
}

type joinGamePayload struct {
	GameID      string `json:"gameId"`
	DisplayName string `json:"displayName"`
	IsGM        bool   `json:"isGM"`
}

func (s *Server) handleJoinGame(conn registry.Connection, env *message.Envelope) {
	var payload joinGamePayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}
	if payload.GameID == "" {
		s.sendError(conn.ID, message.CodeMissingGameID, "join requires a game id")
		return
	}

	userID := conn.UserID
	if userID == "" {
		userID = env.UserID
	}
	if userID == "" {
		// Spectator without identity still gets state pushes.
		userID = conn.ID
	}
	name := payload.DisplayName
	if name == "" {
		name = conn.DisplayName
	}

	if _, err := s.games.FindOrCreateGame(payload.GameID); err != nil {
		logger.Error("Failed to open game", "game_id", payload.GameID, "error", err)
		s.sendError(conn.ID, message.CodeInternalError, "could not open game")
		return
	}
	if err := s.games.AddPlayer(payload.GameID, userID, name); err != nil {
		logger.Error("Failed to add player to roster",
			"game_id", payload.GameID, "user_id", userID, "error", err)
		s.sendError(conn.ID, message.CodeInternalError, "could not join game")
		return
	}

	s.registry.SetUser(conn.ID, userID, name)
	s.registry.SetGame(conn.ID, payload.GameID)
	s.registry.SetGM(conn.ID, payload.IsGM)

	// Joiner gets the full picture; everyone else just hears about them.
	gameState, err := s.games.GetGameState(payload.GameID)
	if err != nil {
		logger.Error("Failed to load game state", "game_id", payload.GameID, "error", err)
		s.sendError(conn.ID, message.CodeInternalError, "could not load game state")
		return
	}
	full := map[string]any{
		"game":     gameState,
		"entities": s.store.GameEntities(payload.GameID),
	}
	if enc, ok := s.coordinator.Current(payload.GameID); ok {
		full["encounter"] = enc
	}
	reply := message.New(message.TypeGameState, full)
	reply.RequestID = env.RequestID
	s.send(conn.ID, reply)

	s.broadcastToGame(payload.GameID, message.New(message.TypePlayerJoined, map[string]any{
		"userId": userID,
		"name":   name,
		"isGM":   payload.IsGM,
	}), conn.ID)

	logger.Info("Player joined game",
		"game_id", payload.GameID,
		"user_id", userID,
		"connection_id", conn.ID)
}

func (s *Server) handleLeaveGame(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "not in a game")
		return
	}

	if err := s.games.RemovePlayer(conn.GameID, conn.UserID); err != nil {
		logger.Warning("Failed to remove player from roster",
			"game_id", conn.GameID, "user_id", conn.UserID, "error", err)
	}
	s.broadcastToGame(conn.GameID, message.New(message.TypePlayerLeft, map[string]any{
		"userId": conn.UserID,
		"name":   conn.DisplayName,
	}), conn.ID)
	s.registry.SetGame(conn.ID, "")

	logger.Info("Player left game",
		"game_id", conn.GameID,
		"user_id", conn.UserID,
		"connection_id", conn.ID)
}

type tokenPayload struct {
	EntityID string       `json:"entityId"`
	Kind     state.Kind   `json:"kind,omitempty"`
	Name     string       `json:"name,omitempty"`
	X        *float64     `json:"x,omitempty"`
	Y        *float64     `json:"y,omitempty"`
	Z        *float64     `json:"z,omitempty"`
	Patch    *state.Patch `json:"patch,omitempty"`
}

// patchFrom builds the entity patch a token message implies.
func (p *tokenPayload) patchFrom() *state.Patch {
	patch := &state.Patch{}
	if p.Patch != nil {
		*patch = *p.Patch
	}
	if p.Kind != "" {
		kind := p.Kind
		patch.Kind = &kind
	}
	if p.Name != "" {
		name := p.Name
		patch.Name = &name
	}
	if p.X != nil || p.Y != nil || p.Z != nil {
		patch.Position = &state.PosPatch{X: p.X, Y: p.Y, Z: p.Z}
	}
	return patch
}

// applyEntityPatch is the shared token-mutation path: apply through the
// store's atomic primitive, then either notify the origin of a conflict
// or broadcast the event to the rest of the game.
func (s *Server) applyEntityPatch(conn registry.Connection, env *message.Envelope, entityID string, patch *state.Patch, eventType string, eventPayload any) {
	res := s.store.Apply(conn.GameID, entityID, patch, conn.ID, env.Time())
	if res.Unknown {
		s.sendError(conn.ID, message.CodeMissingEntityID, "entity not found")
		return
	}
	if res.Rejection != nil {
		// The origin must be told; a silent drop would leave its local
		// state diverged for good.
		s.send(conn.ID, message.New(message.TypeSyncConflict, res.Rejection))
		return
	}

	if res.Created {
		s.broadcastToGame(conn.GameID, message.New(message.TypeFullSync, res.Entity), conn.ID)
	}
	s.broadcastToGame(conn.GameID, message.New(eventType, eventPayload), conn.ID)
}

func (s *Server) handleMoveToken(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	var payload tokenPayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}
	if payload.EntityID == "" {
		s.sendError(conn.ID, message.CodeMissingEntityID, "move requires an entity id")
		return
	}

	patch := &state.Patch{}
	if payload.X != nil || payload.Y != nil || payload.Z != nil {
		patch.Position = &state.PosPatch{X: payload.X, Y: payload.Y, Z: payload.Z}
	}
	s.applyEntityPatch(conn, env, payload.EntityID, patch, message.TypeTokenMoved, json.RawMessage(env.Payload))
}

func (s *Server) handleTokenAdd(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	var payload tokenPayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}
	if payload.EntityID == "" {
		payload.EntityID = uuid.NewString()
	}

	res := s.store.Apply(conn.GameID, payload.EntityID, payload.patchFrom(), conn.ID, env.Time())
	if res.Unknown {
		s.sendError(conn.ID, message.CodeMissingEntityID, "entity not found")
		return
	}
	if res.Rejection != nil {
		s.send(conn.ID, message.New(message.TypeSyncConflict, res.Rejection))
		return
	}
	// The sender needs the applied record too: it may not know the
	// server-assigned id or the filled defaults.
	s.send(conn.ID, message.New(message.TypeFullSync, res.Entity))
	s.broadcastToGame(conn.GameID, message.New(message.TypeTokenAdded, res.Entity), conn.ID)
}

func (s *Server) handleTokenRemove(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	var payload tokenPayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}
	if payload.EntityID == "" {
		s.sendError(conn.ID, message.CodeMissingEntityID, "remove requires an entity id")
		return
	}

	if _, ok := s.store.Remove(conn.GameID, payload.EntityID, env.Time()); !ok {
		s.sendError(conn.ID, message.CodeMissingEntityID, "entity not found")
		return
	}
	s.broadcastToGame(conn.GameID, message.New(message.TypeTokenRemoved, map[string]any{
		"entityId": payload.EntityID,
	}), conn.ID)
}

// handleSceneUpdate forwards scene changes at session scope rather than
// game scope: scene authorship tools share a session, not a table.
func (s *Server) handleSceneUpdate(conn registry.Connection, env *message.Envelope) {
	s.broadcastToSession(conn.SessionID, message.New(message.TypeSceneUpdated, json.RawMessage(env.Payload)), conn.ID)
}

type combatStartPayload struct {
	Participants []combat.Participant `json:"participants"`
}

func (s *Server) handleCombatStart(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	var payload combatStartPayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}

	enc, err := s.coordinator.Start(conn.GameID, payload.Participants)
	if err != nil {
		s.sendError(conn.ID, message.CodeInvalidState, err.Error())
		return
	}
	s.broadcastToGame(conn.GameID, message.New(message.TypeCombatStarted, enc), "")
	logger.Info("Encounter started",
		"game_id", conn.GameID,
		"encounter_id", enc.ID,
		"participants", len(enc.Participants))
}

func (s *Server) handleCombatNextTurn(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	enc, err := s.coordinator.AdvanceTurn(conn.GameID)
	if err != nil {
		s.sendError(conn.ID, message.CodeInvalidState, err.Error())
		return
	}
	s.broadcastToGame(conn.GameID, message.New(message.TypeCombatTurn, enc), "")
}

func (s *Server) handleCombatEnd(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	enc, err := s.coordinator.End(conn.GameID)
	if err != nil {
		s.sendError(conn.ID, message.CodeInvalidState, err.Error())
		return
	}
	s.broadcastToGame(conn.GameID, message.New(message.TypeCombatEnded, enc), "")
	logger.Info("Encounter ended",
		"game_id", conn.GameID,
		"encounter_id", enc.ID,
		"rounds", enc.Round)
}

type combatUpdatePayload struct {
	EntityID string `json:"entityId"`
	Acted    bool   `json:"acted"`
}

// handleCombatUpdate forwards intra-turn combat changes to the
// coordinator and additionally mirrors them at session scope.
func (s *Server) handleCombatUpdate(conn registry.Connection, env *message.Envelope) {
	var payload combatUpdatePayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}

	if payload.EntityID != "" && payload.Acted && conn.GameID != "" {
		if err := s.coordinator.MarkActed(conn.GameID, payload.EntityID); err != nil {
			s.sendError(conn.ID, message.CodeInvalidState, err.Error())
			return
		}
	}
	s.broadcastToSession(conn.SessionID, message.New(message.TypeCombatUpdated, json.RawMessage(env.Payload)), conn.ID)
}

type rollDicePayload struct {
	Notation string `json:"notation"`
	Label    string `json:"label,omitempty"`
	Private  bool   `json:"private,omitempty"`
}

func (s *Server) handleRollDice(conn registry.Connection, env *message.Envelope) {
	var payload rollDicePayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}

	roll, err := rollDice(payload.Notation)
	if err != nil {
		s.sendError(conn.ID, message.CodeInvalidJSON, err.Error())
		return
	}

	result := message.New(message.TypeDiceRolled, map[string]any{
		"userId":   conn.UserID,
		"name":     conn.DisplayName,
		"notation": roll.Notation,
		"rolls":    roll.Rolls,
		"modifier": roll.Modifier,
		"total":    roll.Total,
		"label":    payload.Label,
		"private":  payload.Private,
	})

	if payload.Private {
		// Private rolls echo to the roller only.
		s.send(conn.ID, result)
		return
	}
	if conn.GameID == "" {
		s.send(conn.ID, result)
		return
	}
	s.broadcastToGame(conn.GameID, result, "")
}

type chatPayload struct {
	Text string `json:"text"`
}

func (s *Server) handleChatMessage(conn registry.Connection, env *message.Envelope) {
	if conn.GameID == "" {
		s.sendError(conn.ID, message.CodeNotInGame, "join a game first")
		return
	}
	var payload chatPayload
	if !s.decodePayload(conn.ID, env, &payload) {
		return
	}

	if check := s.floodTracker(conn.ID).Check(payload.Text); !check.Allowed {
		s.sendError(conn.ID, message.CodeRateLimited, check.Reason)
		return
	}

	text := payload.Text
	if filtered := s.chatFilter.Check(text); filtered.Violated {
		if s.chatFilter.IsBlockMode() {
			s.sendError(conn.ID, message.CodeMessageBlocked, "message contains blocked words")
			return
		}
		text = filtered.Filtered
	}

	logger.Audit("Chat message",
		"game_id", conn.GameID,
		"user_id", conn.UserID,
		"text", text)

	s.broadcastToGame(conn.GameID, message.New(message.TypeChatMessage, map[string]any{
		"userId": conn.UserID,
		"name":   conn.DisplayName,
		"text":   text,
	}), "")
}
