// Package state is the authoritative store for versioned game-object
// state. It applies partial updates atomically, detects concurrent
// conflicts, and accumulates per-game deltas for the broadcast loop.
package state

import "time"

// Kind classifies a game object.
type Kind string

const (
	KindCharacter Kind = "character"
	KindMonster   Kind = "monster"
	KindToken     Kind = "token"
)

// Position is a table-space coordinate. Z covers elevation for the few
// scenes that use it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// Health tracks hit points. Temporary never stacks across sources; the
// store keeps the larger of old and new.
type Health struct {
	Current   int `json:"current"`
	Max       int `json:"max"`
	Temporary int `json:"temporary"`
}

// Condition is an active effect on an entity.
type Condition struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Rounds int    `json:"rounds,omitempty"`
}

// CombatState is the per-entity combat sub-record.
type CombatState struct {
	Initiative   int  `json:"initiative"`
	Active       bool `json:"active"`
	Acted        bool `json:"acted"`
	ActionsLeft  int  `json:"actionsLeft"`
	ReactionUsed bool `json:"reactionUsed"`
}

// Entity is one versioned game-object record. Entities are never hard
// deleted; removal clears Active and the id is reported in the next
// delta's removed list.
type Entity struct {
	ID         string         `json:"id"`
	GameID     string         `json:"gameId"`
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name,omitempty"`
	Position   Position       `json:"position"`
	Health     Health         `json:"health"`
	Stats      map[string]int `json:"stats,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Combat     CombatState    `json:"combat"`
	Equipment  []string       `json:"equipment,omitempty"`
	Spells     []string       `json:"spells,omitempty"`
	Active     bool           `json:"active"`
	Version    int64          `json:"version"`
	LastUpdate time.Time      `json:"lastUpdate"`
}

// clone returns a deep copy so callers never alias store-owned state.
func (e *Entity) clone() Entity {
	out := *e
	if e.Stats != nil {
		out.Stats = make(map[string]int, len(e.Stats))
		for k, v := range e.Stats {
			out.Stats[k] = v
		}
	}
	out.Conditions = append([]Condition(nil), e.Conditions...)
	out.Equipment = append([]string(nil), e.Equipment...)
	out.Spells = append([]string(nil), e.Spells...)
	return out
}

// newEntity builds a record with defaults for a first-contact update.
func newEntity(id, gameID string) *Entity {
	return &Entity{
		ID:     id,
		GameID: gameID,
		Kind:   KindToken,
		Health: Health{Current: 10, Max: 10},
		Combat: CombatState{ActionsLeft: 1},
		Active: true,
	}
}

// Patch is a partial update. Nil fields leave the stored value untouched;
// partial updates never clear fields they do not mention.
type Patch struct {
	Kind             *Kind          `json:"kind,omitempty"`
	Name             *string        `json:"name,omitempty"`
	Position         *PosPatch      `json:"position,omitempty"`
	Health           *HealthPatch   `json:"health,omitempty"`
	Stats            map[string]int `json:"stats,omitempty"`
	AddConditions    []Condition    `json:"addConditions,omitempty"`
	RemoveConditions []string       `json:"removeConditions,omitempty"`
	Combat           *CombatPatch   `json:"combat,omitempty"`
	Equipment        []string       `json:"equipment,omitempty"`
	Spells           []string       `json:"spells,omitempty"`
}

// PosPatch updates individual coordinates.
type PosPatch struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

// HealthPatch updates hit points. Damage is applied against temporary
// hit points first, then current.
type HealthPatch struct {
	Current   *int `json:"current,omitempty"`
	Max       *int `json:"max,omitempty"`
	Temporary *int `json:"temporary,omitempty"`
	Damage    *int `json:"damage,omitempty"`
	Healing   *int `json:"healing,omitempty"`
}

// CombatPatch updates the combat sub-record.
type CombatPatch struct {
	Initiative   *int  `json:"initiative,omitempty"`
	Active       *bool `json:"active,omitempty"`
	Acted        *bool `json:"acted,omitempty"`
	ActionsLeft  *int  `json:"actionsLeft,omitempty"`
	ReactionUsed *bool `json:"reactionUsed,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p *Patch) IsZero() bool {
	return p.Kind == nil && p.Name == nil && p.Position == nil &&
		p.Health == nil && len(p.Stats) == 0 && len(p.AddConditions) == 0 &&
		len(p.RemoveConditions) == 0 && p.Combat == nil &&
		p.Equipment == nil && p.Spells == nil
}

// TouchesCritical reports whether the patch modifies a critical field:
// health, position, or the combat sub-record. Concurrent writes to these
// are resolved server-authoritatively rather than merged.
func (p *Patch) TouchesCritical() bool {
	return p.Health != nil || p.Position != nil || p.Combat != nil
}

// apply merges the patch into the entity field by field.
func (e *Entity) apply(p *Patch) {
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Position != nil {
		if p.Position.X != nil {
			e.Position.X = *p.Position.X
		}
		if p.Position.Y != nil {
			e.Position.Y = *p.Position.Y
		}
		if p.Position.Z != nil {
			e.Position.Z = *p.Position.Z
		}
	}
	if p.Health != nil {
		e.applyHealth(p.Health)
	}
	for k, v := range p.Stats {
		if e.Stats == nil {
			e.Stats = make(map[string]int)
		}
		e.Stats[k] = v
	}
	for _, name := range p.RemoveConditions {
		e.removeCondition(name)
	}
	for _, c := range p.AddConditions {
		e.removeCondition(c.Name)
		e.Conditions = append(e.Conditions, c)
	}
	if p.Combat != nil {
		if p.Combat.Initiative != nil {
			e.Combat.Initiative = *p.Combat.Initiative
		}
		if p.Combat.Active != nil {
			e.Combat.Active = *p.Combat.Active
		}
		if p.Combat.Acted != nil {
			e.Combat.Acted = *p.Combat.Acted
		}
		if p.Combat.ActionsLeft != nil {
			e.Combat.ActionsLeft = *p.Combat.ActionsLeft
		}
		if p.Combat.ReactionUsed != nil {
			e.Combat.ReactionUsed = *p.Combat.ReactionUsed
		}
	}
	if p.Equipment != nil {
		e.Equipment = append([]string(nil), p.Equipment...)
	}
	if p.Spells != nil {
		e.Spells = append([]string(nil), p.Spells...)
	}
}

// applyHealth merges a health patch. Order matters: max and explicit
// current first, then the temporary-HP max rule, then damage absorption.
func (e *Entity) applyHealth(h *HealthPatch) {
	if h.Max != nil {
		e.Health.Max = *h.Max
	}
	if h.Current != nil {
		e.Health.Current = *h.Current
	}
	if h.Temporary != nil {
		// Temporary hit points never stack; keep the larger grant.
		if *h.Temporary > e.Health.Temporary {
			e.Health.Temporary = *h.Temporary
		}
	}
	if h.Healing != nil && *h.Healing > 0 {
		e.Health.Current += *h.Healing
		if e.Health.Current > e.Health.Max {
			e.Health.Current = e.Health.Max
		}
	}
	if h.Damage != nil && *h.Damage > 0 {
		dmg := *h.Damage
		if e.Health.Temporary > 0 {
			absorbed := min(e.Health.Temporary, dmg)
			e.Health.Temporary -= absorbed
			dmg -= absorbed
		}
		e.Health.Current -= dmg
		if e.Health.Current < 0 {
			e.Health.Current = 0
		}
	}
}

func (e *Entity) removeCondition(name string) {
	for i, c := range e.Conditions {
		if c.Name == name {
			e.Conditions = append(e.Conditions[:i], e.Conditions[i+1:]...)
			return
		}
	}
}
