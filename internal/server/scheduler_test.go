package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rollforge/vtt/server/internal/config"
	"github.com/rollforge/vtt/server/internal/game"
	"github.com/rollforge/vtt/server/internal/message"
	"github.com/rollforge/vtt/server/internal/state"
)

func TestBroadcastPass_SendsAccumulatedDelta(t *testing.T) {
	s := newTestServer()
	fcA, connA := connect(s)
	fcB, connB := connect(s)
	joinGame(t, s, fcA, connA, "g1", "alice", "Alice")
	joinGame(t, s, fcB, connB, "g1", "bob", "Bob")
	fcA.reset()
	fcB.reset()

	s.Handle(connA, envelope(t, message.TypeMoveToken, map[string]any{
		"entityId": "e1", "x": 5.0,
	}, "", time.Now().UnixMilli()))

	s.runBroadcastPass()

	// The tick delta reaches every connection, the mover included.
	for _, fc := range []*fakeClient{fcA, fcB} {
		w, ok := fc.lastOfType(t, message.TypeStateDelta)
		if !ok {
			t.Fatal("STATE_DELTA not delivered")
		}
		var delta struct {
			Created []state.Entity `json:"created"`
			Updated []state.Entity `json:"updated"`
			Removed []string       `json:"removed"`
		}
		if err := json.Unmarshal(w.Payload, &delta); err != nil {
			t.Fatalf("Failed to decode delta: %v", err)
		}
		if len(delta.Created) != 1 || delta.Created[0].ID != "e1" {
			t.Errorf("Delta created = %+v, want e1", delta.Created)
		}
	}
}

func TestBroadcastPass_QuietTickSendsNothing(t *testing.T) {
	s := newTestServer()
	fc, connID := connect(s)
	joinGame(t, s, fc, connID, "g1", "alice", "Alice")

	// Drain the join's roster delta, then run a pass with no changes.
	s.runBroadcastPass()
	fc.reset()
	s.runBroadcastPass()

	if n := fc.countOfType(t, message.TypeStateDelta); n != 0 {
		t.Errorf("Quiet tick produced %d STATE_DELTA frames, want 0", n)
	}
}

func TestBroadcastPass_DeltaDrainsOnce(t *testing.T) {
	s := newTestServer()
	fc, connID := connect(s)
	joinGame(t, s, fc, connID, "g1", "alice", "Alice")

	s.Handle(connID, envelope(t, message.TypeMoveToken, map[string]any{
		"entityId": "e1", "x": 5.0,
	}, "", time.Now().UnixMilli()))

	s.runBroadcastPass()
	fc.reset()
	s.runBroadcastPass()

	if n := fc.countOfType(t, message.TypeStateDelta); n != 0 {
		t.Errorf("Change was re-broadcast %d times after draining", n)
	}
}

func TestBroadcastPass_RosterDeltaIncluded(t *testing.T) {
	s := newTestServer()
	fcA, connA := connect(s)
	joinGame(t, s, fcA, connA, "g1", "alice", "Alice")

	_, connB := connect(s)
	s.Handle(connB, envelope(t, message.TypeJoinGame, map[string]any{
		"gameId": "g1", "displayName": "Bob",
	}, "bob", 0))
	fcA.reset()

	s.runBroadcastPass()

	w, ok := fcA.lastOfType(t, message.TypeStateDelta)
	if !ok {
		t.Fatal("Roster change produced no STATE_DELTA")
	}
	var delta struct {
		Roster json.RawMessage `json:"roster"`
	}
	json.Unmarshal(w.Payload, &delta)
	if len(delta.Roster) == 0 {
		t.Error("Delta did not carry the roster change")
	}
}

func TestLivenessSweep_ProbesWithoutReapingFresh(t *testing.T) {
	s := newTestServer()
	fc, _ := connect(s)

	s.runLivenessSweep(10 * time.Second)

	if _, ok := fc.lastOfType(t, message.TypePing); !ok {
		t.Error("Sweep did not probe the connection")
	}
	if s.OnlineCount() != 1 {
		t.Errorf("Fresh connection was reaped: count = %d", s.OnlineCount())
	}
}

type recordingSaver struct {
	saved [][]state.Entity
}

func (r *recordingSaver) SaveEntities(entities []state.Entity) error {
	r.saved = append(r.saved, entities)
	return nil
}

func TestAutoSave_PersistsActiveGames(t *testing.T) {
	saver := &recordingSaver{}
	s := NewServer(config.DefaultConfig(), game.NewMemoryStore(), nil, saver)
	fc, connID := connect(s)
	joinGame(t, s, fc, connID, "g1", "alice", "Alice")

	s.Handle(connID, envelope(t, message.TypeMoveToken, map[string]any{
		"entityId": "e1", "x": 1.0,
	}, "", time.Now().UnixMilli()))

	s.autoSaveEntities()

	if len(saver.saved) != 1 || len(saver.saved[0]) != 1 {
		t.Fatalf("Auto-save wrote %+v, want one batch with one entity", saver.saved)
	}
	if saver.saved[0][0].ID != "e1" {
		t.Errorf("Saved entity id = %s, want e1", saver.saved[0][0].ID)
	}
}
