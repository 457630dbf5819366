package state

import (
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func strPtr(s string) *string     { return &s }

func movePatch(x, y float64) *Patch {
	return &Patch{Position: &PosPatch{X: floatPtr(x), Y: floatPtr(y)}}
}

func TestApply_CreatesUnknownEntityWithDefaults(t *testing.T) {
	s := NewStore()
	ts := time.Now()

	res := s.Apply("g1", "e1", movePatch(3, 4), "conn-a", ts)

	if !res.Created {
		t.Error("Expected first update to create the entity")
	}
	if res.Rejection != nil {
		t.Fatalf("Unexpected rejection: %+v", res.Rejection)
	}
	if res.Entity.Version != 1 {
		t.Errorf("New entity version = %d, want 1", res.Entity.Version)
	}
	if res.Entity.Position.X != 3 || res.Entity.Position.Y != 4 {
		t.Errorf("Position = (%v,%v), want (3,4)", res.Entity.Position.X, res.Entity.Position.Y)
	}
	if res.Entity.Kind != KindToken {
		t.Errorf("Default kind = %q, want %q", res.Entity.Kind, KindToken)
	}
	if !res.Entity.Active {
		t.Error("New entity should be active")
	}
}

func TestApply_VersionIncrementsByExactlyOne(t *testing.T) {
	s := NewStore()
	base := time.Now()

	// Accepted updates must be spaced beyond the conflict window since
	// position is a critical field.
	var want int64 = 1
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * 2 * time.Second)
		res := s.Apply("g1", "e1", movePatch(float64(i), 0), "conn-a", ts)
		if res.Rejection != nil {
			t.Fatalf("Update %d unexpectedly rejected: %s", i, res.Rejection.Reason)
		}
		if res.Entity.Version != want {
			t.Errorf("Update %d: version = %d, want %d", i, res.Entity.Version, want)
		}
		want++
	}
}

func TestApply_TemporaryHitPointsNeverStack(t *testing.T) {
	tests := []struct {
		name   string
		first  int
		second int
		want   int
	}{
		{"larger then smaller", 10, 5, 10},
		{"smaller then larger", 5, 10, 10},
		{"equal grants", 7, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			base := time.Now()

			res := s.Apply("g1", "e1", &Patch{Health: &HealthPatch{Temporary: intPtr(tt.first)}}, "a", base)
			if res.Rejection != nil {
				t.Fatalf("First grant rejected: %s", res.Rejection.Reason)
			}
			res = s.Apply("g1", "e1", &Patch{Health: &HealthPatch{Temporary: intPtr(tt.second)}}, "a", base.Add(2*time.Second))
			if res.Rejection != nil {
				t.Fatalf("Second grant rejected: %s", res.Rejection.Reason)
			}
			if res.Entity.Health.Temporary != tt.want {
				t.Errorf("Temporary = %d, want %d (never %d)",
					res.Entity.Health.Temporary, tt.want, tt.first+tt.second)
			}
		})
	}
}

func TestApply_DamageConsumesTemporaryFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", &Patch{Health: &HealthPatch{Current: intPtr(20), Max: intPtr(20), Temporary: intPtr(5)}}, "a", base)
	res := s.Apply("g1", "e1", &Patch{Health: &HealthPatch{Damage: intPtr(8)}}, "a", base.Add(2*time.Second))

	if res.Rejection != nil {
		t.Fatalf("Damage rejected: %s", res.Rejection.Reason)
	}
	if res.Entity.Health.Temporary != 0 {
		t.Errorf("Temporary = %d, want 0", res.Entity.Health.Temporary)
	}
	if res.Entity.Health.Current != 17 {
		t.Errorf("Current = %d, want 17 (5 absorbed by temp)", res.Entity.Health.Current)
	}
}

func TestApply_CriticalFieldWindowRejectionIsIdempotent(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", movePatch(1, 1), "conn-a", base)
	before, _ := s.Get("e1")

	// Within the 1-second window: must be rejected, stored state unchanged.
	res := s.Apply("g1", "e1", movePatch(9, 9), "conn-b", base.Add(500*time.Millisecond))
	if res.Rejection == nil {
		t.Fatal("Expected rejection inside conflict window")
	}
	if res.Rejection.Strategy != StrategyServerAuthoritative {
		t.Errorf("Strategy = %q, want %q", res.Rejection.Strategy, StrategyServerAuthoritative)
	}

	after, _ := s.Get("e1")
	if after.Version != before.Version {
		t.Errorf("Version changed on rejection: %d -> %d", before.Version, after.Version)
	}
	if after.Position != before.Position {
		t.Errorf("Position changed on rejection: %+v -> %+v", before.Position, after.Position)
	}
	if after.LastUpdate != before.LastUpdate {
		t.Error("LastUpdate changed on rejection")
	}
}

func TestApply_StaleTimestampRejectedForNonCriticalField(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", &Patch{Name: strPtr("Grog")}, "a", base)
	res := s.Apply("g1", "e1", &Patch{Name: strPtr("Old Name")}, "b", base.Add(-5*time.Second))

	if res.Rejection == nil {
		t.Fatal("Expected stale update to be rejected")
	}
	if res.Rejection.Strategy != StrategyTimestampOrder {
		t.Errorf("Strategy = %q, want %q", res.Rejection.Strategy, StrategyTimestampOrder)
	}
	ent, _ := s.Get("e1")
	if ent.Name != "Grog" {
		t.Errorf("Name = %q, want %q", ent.Name, "Grog")
	}
}

func TestApply_PartialUpdateNeverClearsUnmentionedFields(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", &Patch{
		Name:   strPtr("Grog"),
		Health: &HealthPatch{Current: intPtr(30), Max: intPtr(30)},
		Stats:  map[string]int{"str": 18},
	}, "a", base)

	res := s.Apply("g1", "e1", &Patch{Name: strPtr("Grog the Large")}, "a", base.Add(2*time.Second))
	if res.Rejection != nil {
		t.Fatalf("Rename rejected: %s", res.Rejection.Reason)
	}
	if res.Entity.Health.Current != 30 || res.Entity.Health.Max != 30 {
		t.Errorf("Health cleared by unrelated patch: %+v", res.Entity.Health)
	}
	if res.Entity.Stats["str"] != 18 {
		t.Errorf("Stats cleared by unrelated patch: %v", res.Entity.Stats)
	}
}

func TestRemove_TombstonesAndReportsInDelta(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", movePatch(1, 1), "a", base)
	s.DrainDelta("g1") // clear the creation

	ent, ok := s.Remove("g1", "e1", base.Add(2*time.Second))
	if !ok {
		t.Fatal("Remove failed")
	}
	if ent.Active {
		t.Error("Removed entity still active")
	}

	// Tombstoned, not deleted
	if _, ok := s.Get("e1"); !ok {
		t.Error("Tombstoned entity should still be readable")
	}

	delta, ok := s.DrainDelta("g1")
	if !ok {
		t.Fatal("Expected a delta after removal")
	}
	if len(delta.Removed) != 1 || delta.Removed[0] != "e1" {
		t.Errorf("Removed list = %v, want [e1]", delta.Removed)
	}

	// Second remove is a no-op
	if _, ok := s.Remove("g1", "e1", base.Add(3*time.Second)); ok {
		t.Error("Removing a tombstoned entity should report false")
	}
}

func TestApply_EntityOwnedByAnotherGame(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", movePatch(1, 1), "a", base)

	res := s.Apply("g2", "e1", movePatch(9, 9), "b", base.Add(2*time.Second))
	if !res.Unknown {
		t.Fatal("Cross-game apply was not reported as unknown")
	}
	if res.Entity.ID != "" {
		t.Error("Cross-game apply leaked the foreign entity")
	}

	ent, _ := s.Get("e1")
	if ent.Position.X != 1 || ent.Version != 1 {
		t.Errorf("Cross-game apply mutated the entity: version %d at x=%v", ent.Version, ent.Position.X)
	}
	if _, ok := s.DrainDelta("g2"); ok {
		t.Error("Cross-game apply accumulated a delta for the caller's game")
	}
}

func TestRemove_EntityOwnedByAnotherGame(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "e1", movePatch(1, 1), "a", base)

	if _, ok := s.Remove("g2", "e1", base.Add(2*time.Second)); ok {
		t.Fatal("Cross-game remove succeeded")
	}
	ent, _ := s.Get("e1")
	if !ent.Active {
		t.Error("Cross-game remove tombstoned the entity")
	}
}

func TestDrainDelta_EmptyGameIsNoOp(t *testing.T) {
	s := NewStore()

	if _, ok := s.DrainDelta("nope"); ok {
		t.Error("Draining an untouched game should report no changes")
	}
	// And it must not have allocated bookkeeping as a side effect.
	if _, ok := s.DrainDelta("nope"); ok {
		t.Error("Second drain should still report no changes")
	}
}

func TestDrainDelta_SeparatesCreatedUpdatedRemoved(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Apply("g1", "created", movePatch(0, 0), "a", base)
	s.Apply("g1", "updated", movePatch(0, 0), "a", base)
	s.DrainDelta("g1")

	s.Apply("g1", "updated", movePatch(5, 5), "a", base.Add(2*time.Second))
	s.Apply("g1", "fresh", movePatch(1, 1), "a", base.Add(2*time.Second))
	s.Remove("g1", "created", base.Add(2*time.Second))

	delta, ok := s.DrainDelta("g1")
	if !ok {
		t.Fatal("Expected a delta")
	}
	if len(delta.Created) != 1 || delta.Created[0].ID != "fresh" {
		t.Errorf("Created = %v", delta.Created)
	}
	if len(delta.Updated) != 1 || delta.Updated[0].ID != "updated" {
		t.Errorf("Updated = %v", delta.Updated)
	}
	if len(delta.Removed) != 1 || delta.Removed[0] != "created" {
		t.Errorf("Removed = %v", delta.Removed)
	}

	// Drained means drained
	if _, ok := s.DrainDelta("g1"); ok {
		t.Error("Second drain should be empty")
	}
}

func TestSweepHistory_PurgesOldEntries(t *testing.T) {
	s := NewStoreWith(time.Second, 100, 5*time.Minute)
	base := time.Now().Add(-10 * time.Minute)

	s.Apply("g1", "e1", movePatch(0, 0), "a", base)
	s.Apply("g1", "e1", movePatch(1, 1), "a", base.Add(2*time.Second))
	if got := s.HistoryLen("e1"); got != 2 {
		t.Fatalf("HistoryLen = %d, want 2", got)
	}

	s.SweepHistory(time.Now())
	if got := s.HistoryLen("e1"); got != 0 {
		t.Errorf("HistoryLen after sweep = %d, want 0", got)
	}
}

func TestHistoryRing_CappedAtLimit(t *testing.T) {
	s := NewStoreWith(time.Second, 100, 5*time.Minute)
	base := time.Now()

	for i := 0; i < 150; i++ {
		ts := base.Add(time.Duration(i) * 2 * time.Second)
		s.Apply("g1", "e1", movePatch(float64(i), 0), "a", ts)
	}
	if got := s.HistoryLen("e1"); got != 100 {
		t.Errorf("HistoryLen = %d, want 100", got)
	}
}

func TestUpdateRate_CountsRecentHistory(t *testing.T) {
	s := NewStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		s.Apply("g1", "e1", movePatch(float64(i), 0), "a", now.Add(time.Duration(i-10)*2*time.Second))
	}

	rate := s.UpdateRate("e1", 60*time.Second, now)
	if rate <= 0 {
		t.Errorf("UpdateRate = %v, want > 0", rate)
	}
}
