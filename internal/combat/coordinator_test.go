package combat

import (
	"errors"
	"sync"
	"testing"
)

func threeParticipants() []Participant {
	return []Participant{
		{EntityID: "rogue", Name: "Sable", Initiative: 18},
		{EntityID: "fighter", Name: "Brom", Initiative: 12},
		{EntityID: "wizard", Name: "Imra", Initiative: 21},
	}
}

func TestStart_SortsByInitiativeDescending(t *testing.T) {
	c := NewCoordinator(nil)

	enc, err := c.Start("g1", threeParticipants())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	wantOrder := []string{"wizard", "rogue", "fighter"}
	for i, want := range wantOrder {
		if enc.Participants[i].EntityID != want {
			t.Errorf("Participant %d = %s, want %s", i, enc.Participants[i].EntityID, want)
		}
	}
	if enc.Round != 1 || enc.Turn != 0 {
		t.Errorf("Round/Turn = %d/%d, want 1/0", enc.Round, enc.Turn)
	}
	if !enc.Active {
		t.Error("Started encounter should be active")
	}
}

func TestStart_RejectsZeroParticipants(t *testing.T) {
	c := NewCoordinator(nil)

	if _, err := c.Start("g1", nil); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("Start with no participants = %v, want ErrNoParticipants", err)
	}
}

func TestAdvanceTurn_WrapsAndIncrementsRound(t *testing.T) {
	c := NewCoordinator(nil)
	c.Start("g1", threeParticipants())

	// Mark everyone acted so we can observe the wrap clearing flags.
	for _, id := range []string{"wizard", "rogue", "fighter"} {
		if err := c.MarkActed("g1", id); err != nil {
			t.Fatalf("MarkActed(%s) failed: %v", id, err)
		}
	}

	wantTurns := []int{1, 2, 0}
	for i, want := range wantTurns {
		enc, err := c.AdvanceTurn("g1")
		if err != nil {
			t.Fatalf("AdvanceTurn %d failed: %v", i, err)
		}
		if enc.Turn != want {
			t.Errorf("Advance %d: turn = %d, want %d", i, enc.Turn, want)
		}
	}

	enc, _ := c.Current("g1")
	if enc.Round != 2 {
		t.Errorf("Round after full cycle = %d, want 2", enc.Round)
	}
	for _, p := range enc.Participants {
		if p.Acted {
			t.Errorf("Participant %s still marked acted after round wrap", p.EntityID)
		}
	}
}

func TestAdvanceTurn_ActedClearedOncePerRoundNotPerTurn(t *testing.T) {
	c := NewCoordinator(nil)
	c.Start("g1", threeParticipants())
	c.MarkActed("g1", "wizard")

	// Mid-round advances must not clear flags.
	enc, _ := c.AdvanceTurn("g1")
	if !enc.Participants[0].Acted {
		t.Error("Mid-round advance cleared the acted flag")
	}
}

func TestAdvanceTurn_InactiveEncounterRejected(t *testing.T) {
	c := NewCoordinator(nil)

	if _, err := c.AdvanceTurn("g1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("AdvanceTurn with no encounter = %v, want ErrNotActive", err)
	}

	c.Start("g1", threeParticipants())
	c.End("g1")

	if _, err := c.AdvanceTurn("g1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("AdvanceTurn after end = %v, want ErrNotActive", err)
	}
}

func TestEnd_RetainsCountersAndRejectsSecondEnd(t *testing.T) {
	c := NewCoordinator(nil)
	c.Start("g1", threeParticipants())
	c.AdvanceTurn("g1")

	enc, err := c.End("g1")
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if enc.Active {
		t.Error("Ended encounter still active")
	}
	if enc.Round != 1 || enc.Turn != 1 {
		t.Errorf("Counters not retained: round/turn = %d/%d, want 1/1", enc.Round, enc.Turn)
	}

	if _, err := c.End("g1"); !errors.Is(err, ErrNotActive) {
		t.Errorf("Second End = %v, want ErrNotActive", err)
	}
}

func TestStart_ReinitializesAfterEnd(t *testing.T) {
	c := NewCoordinator(nil)
	first, _ := c.Start("g1", threeParticipants())
	c.AdvanceTurn("g1")
	c.AdvanceTurn("g1")
	c.End("g1")

	second, err := c.Start("g1", threeParticipants())
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if second.ID == first.ID {
		t.Error("Restarted encounter reused the old id")
	}
	if second.Round != 1 || second.Turn != 0 {
		t.Errorf("Restart counters = %d/%d, want 1/0", second.Round, second.Turn)
	}
}

func TestMarkActed_UnknownParticipant(t *testing.T) {
	c := NewCoordinator(nil)
	c.Start("g1", threeParticipants())

	if err := c.MarkActed("g1", "nobody"); !errors.Is(err, ErrNoEncounter) {
		t.Errorf("MarkActed for unknown participant = %v, want ErrNoEncounter", err)
	}
}

// recordingStore counts persistence calls and fails on demand.
type recordingStore struct {
	mu      sync.Mutex
	creates int
	updates int
	ends    int
	fail    bool
}

func (r *recordingStore) CreateEncounter(enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	if r.fail {
		return errors.New("storage down")
	}
	return nil
}

func (r *recordingStore) UpdateEncounter(enc *Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	if r.fail {
		return errors.New("storage down")
	}
	return nil
}

func (r *recordingStore) EndEncounter(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends++
	if r.fail {
		return errors.New("storage down")
	}
	return nil
}

func TestCoordinator_PersistsAtBoundaries(t *testing.T) {
	store := &recordingStore{}
	c := NewCoordinator(store)

	c.Start("g1", threeParticipants())
	c.AdvanceTurn("g1")
	c.End("g1")

	if store.creates != 1 || store.updates != 1 || store.ends != 1 {
		t.Errorf("Persistence calls = %d/%d/%d, want 1/1/1",
			store.creates, store.updates, store.ends)
	}
}

func TestCoordinator_PersistenceFailureNeverBlocksTransitions(t *testing.T) {
	store := &recordingStore{fail: true}
	c := NewCoordinator(store)

	if _, err := c.Start("g1", threeParticipants()); err != nil {
		t.Errorf("Start blocked by persistence failure: %v", err)
	}
	if _, err := c.AdvanceTurn("g1"); err != nil {
		t.Errorf("AdvanceTurn blocked by persistence failure: %v", err)
	}
	if _, err := c.End("g1"); err != nil {
		t.Errorf("End blocked by persistence failure: %v", err)
	}
}
