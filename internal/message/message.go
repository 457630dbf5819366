// Package message defines the JSON wire protocol spoken between the sync
// server and its clients.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client-to-server message types.
const (
	TypePing           = "PING"
	TypeJoinGame       = "JOIN_GAME"
	TypeLeaveGame      = "LEAVE_GAME"
	TypeMoveToken      = "MOVE_TOKEN"
	TypeTokenAdd       = "TOKEN_ADD"
	TypeTokenRemove    = "TOKEN_REMOVE"
	TypeSceneUpdate    = "SCENE_UPDATE"
	TypeCombatStart    = "COMBAT_START"
	TypeCombatNextTurn = "COMBAT_NEXT_TURN"
	TypeCombatEnd      = "COMBAT_END"
	TypeCombatUpdate   = "COMBAT_UPDATE"
	TypeRollDice       = "ROLL_DICE"
	TypeChatMessage    = "CHAT_MESSAGE"
)

// Server-to-client message types.
const (
	TypePong          = "PONG"
	TypePlayerJoined  = "PLAYER_JOINED"
	TypePlayerLeft    = "PLAYER_LEFT"
	TypeTokenMoved    = "TOKEN_MOVED"
	TypeTokenAdded    = "TOKEN_ADDED"
	TypeTokenRemoved  = "TOKEN_REMOVED"
	TypeSceneUpdated  = "SCENE_UPDATED"
	TypeCombatStarted = "COMBAT_STARTED"
	TypeCombatTurn    = "COMBAT_TURN"
	TypeCombatEnded   = "COMBAT_ENDED"
	TypeCombatUpdated = "COMBAT_UPDATED"
	TypeDiceRolled    = "DICE_ROLLED"
	TypeGameState     = "GAME_STATE"
	TypeStateDelta    = "STATE_DELTA"
	TypeFullSync      = "FULL_SYNC"
	TypeSyncConflict  = "SYNC_CONFLICT"
	TypeError         = "ERROR"
)

// Error codes carried in ErrorPayload.
const (
	CodeInvalidJSON     = "INVALID_JSON"
	CodeMissingGameID   = "MISSING_GAME_ID"
	CodeMissingEntityID = "MISSING_ENTITY_ID"
	CodeNotInGame       = "NOT_IN_GAME"
	CodeInvalidState    = "INVALID_STATE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeMessageBlocked  = "MESSAGE_BLOCKED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Envelope is an inbound wire message. Payload stays raw until the handler
// for the type decodes it.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Decode parses raw bytes into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

// Time returns the client timestamp, falling back to now when absent.
func (e *Envelope) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(e.Timestamp)
}

// Outbound is a server-to-client message. Marshal stamps the server
// timestamp so every emitted message carries one.
type Outbound struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"requestId,omitempty"`
}

// New builds an outbound message of the given type.
func New(typ string, payload any) *Outbound {
	return &Outbound{Type: typ, Payload: payload}
}

// Marshal serializes the message, stamping the current server time if no
// timestamp has been set.
func (m *Outbound) Marshal() ([]byte, error) {
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type, err)
	}
	return data, nil
}

// ErrorPayload is the payload of TypeError messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an ERROR message with the given code.
func NewError(code, msg string) *Outbound {
	return New(TypeError, ErrorPayload{Code: code, Message: msg})
}
