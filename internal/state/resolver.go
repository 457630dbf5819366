package state

import "time"

// Strategy tags how a conflict between two competing updates was resolved.
type Strategy string

const (
	// StrategyTimestampOrder rejects updates older than the state they
	// would overwrite; newer wins.
	StrategyTimestampOrder Strategy = "timestamp-order"

	// StrategyServerAuthoritative keeps the current server state
	// unconditionally; the incoming update is discarded, not merged.
	StrategyServerAuthoritative Strategy = "server-authoritative"

	// StrategyManual defers to an operator decision. Not produced by the
	// resolver; reserved for GM tooling.
	StrategyManual Strategy = "manual"
)

// Rejection describes why an update was refused, carrying the
// authoritative state so the originator can reconcile locally.
type Rejection struct {
	Strategy      Strategy `json:"strategy"`
	Reason        string   `json:"reason"`
	Authoritative Entity   `json:"authoritative"`
}

// resolve decides whether an incoming update may be applied over the
// current state. It is a pure function; all mutation happens in the
// store after the decision.
//
// Checks, in order:
//  1. Critical-field concurrency window: a patch touching health,
//     position, or combat within `window` of the entity's last update is
//     a genuine concurrent conflict; current state wins.
//  2. Staleness: an update timestamped before the state it would
//     overwrite lost the race; newer wins.
//
// The window check runs first so critical fields are always resolved
// server-authoritatively inside the window, and by timestamp order
// outside it.
func resolve(current *Entity, p *Patch, ts time.Time, window time.Duration) *Rejection {
	if p.TouchesCritical() && ts.Sub(current.LastUpdate) < window {
		return &Rejection{
			Strategy:      StrategyServerAuthoritative,
			Reason:        "concurrent update to critical field",
			Authoritative: current.clone(),
		}
	}
	if ts.Before(current.LastUpdate) {
		return &Rejection{
			Strategy:      StrategyTimestampOrder,
			Reason:        "update is older than current state",
			Authoritative: current.clone(),
		}
	}
	return nil
}
