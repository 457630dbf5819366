package server

import (
	"time"

	"github.com/rollforge/vtt/server/internal/logger"
	"github.com/rollforge/vtt/server/internal/message"
)

// startBroadcastLoop runs the fixed-interval delta broadcast. One
// goroutine drives every game, so a pass for a game can never overlap
// with itself; if a pass overruns the tick, the ticker drops ticks
// rather than stacking them.
func (s *Server) startBroadcastLoop() {
	interval := time.Duration(s.serverConfig.Sync.BroadcastIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.runBroadcastPass()
		}
	}
}

// runBroadcastPass sends one STATE_DELTA per game with accumulated
// changes. Games with connections but no changes get nothing; games
// with no connections are never visited, so their bookkeeping is
// untouched.
func (s *Server) runBroadcastPass() {
	for _, gameID := range s.registry.ActiveGames() {
		delta, changed := s.store.DrainDelta(gameID)

		roster, err := s.games.GetNetworkDelta(gameID)
		if err != nil {
			logger.Warning("Failed to read roster delta", "game_id", gameID, "error", err)
		}

		if !changed && len(roster) == 0 {
			continue
		}

		payload := map[string]any{
			"created": delta.Created,
			"updated": delta.Updated,
			"removed": delta.Removed,
		}
		if len(roster) > 0 {
			payload["roster"] = roster
		}
		s.broadcastToGame(gameID, message.New(message.TypeStateDelta, payload), "")
	}
}

// startLivenessLoop probes connections and reaps the dead on a slower,
// independent period. A slow broadcast pass never delays this sweep.
func (s *Server) startLivenessLoop() {
	interval := time.Duration(s.serverConfig.Sync.LivenessIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.runLivenessSweep(interval)
			s.store.SweepHistory(time.Now())
		}
	}
}

// runLivenessSweep sends a probe to every connection and force-closes
// those silent for the configured stale window (default twice the probe
// period).
func (s *Server) runLivenessSweep(interval time.Duration) {
	probe, err := message.New(message.TypePing, nil).Marshal()
	if err != nil {
		return
	}
	s.registry.BroadcastAll(probe, "")

	staleAfter := time.Duration(s.serverConfig.Sync.StaleAfterSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = 2 * interval
	}

	cutoff := time.Now().Add(-staleAfter)
	for _, id := range s.registry.StaleConnections(cutoff) {
		logger.Info("Closing stale connection",
			"connection_id", id,
			"stale_after", staleAfter.String())
		s.disconnect(id)
	}
}

// startAutoSaveLoop periodically persists entity snapshots for every
// active game. Disabled when no saver is configured or the interval is 0.
func (s *Server) startAutoSaveLoop() {
	if s.saver == nil {
		return
	}
	intervalSeconds := s.serverConfig.Sync.AutoSaveIntervalSeconds
	if intervalSeconds <= 0 {
		logger.Info("Entity auto-save disabled")
		return
	}

	interval := time.Duration(intervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Entity auto-save enabled", "interval_seconds", intervalSeconds)

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.autoSaveEntities()
		}
	}
}

// autoSaveEntities writes every active game's entities through the saver.
func (s *Server) autoSaveEntities() {
	saved := 0
	for _, gameID := range s.registry.ActiveGames() {
		entities := s.store.GameEntities(gameID)
		if len(entities) == 0 {
			continue
		}
		if err := s.saver.SaveEntities(entities); err != nil {
			logger.Warning("Entity auto-save failed", "game_id", gameID, "error", err)
			continue
		}
		saved += len(entities)
	}
	if saved > 0 {
		logger.Debug("Entity auto-save completed", "entities", saved)
	}
}
