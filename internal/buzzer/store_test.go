package buzzer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestStoreLazyCreation(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	if store.Len() != 0 {
		t.Fatalf("new store has %d sessions", store.Len())
	}

	store.Ensure("G1")
	store.Ensure("G1")
	store.Ensure("G2")
	if store.Len() != 2 {
		t.Errorf("store has %d sessions, want 2", store.Len())
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	store.SetGameState("G1", GameState{
		IsPlaying: true,
		Scoreboard: map[string]TeamScore{
			"T1": {Name: "Alpha", Score: 100, Color: "#ff0000"},
		},
	})

	snap := store.Snapshot("G1")
	snap.Scoreboard["T1"] = TeamScore{Name: "Tampered", Score: 0}
	snap.Scoreboard["T2"] = TeamScore{Name: "Injected"}

	fresh := store.Snapshot("G1")
	if got := fresh.Scoreboard["T1"]; got.Name != "Alpha" || got.Score != 100 {
		t.Errorf("snapshot mutation leaked into store: %+v", got)
	}
	if _, ok := fresh.Scoreboard["T2"]; ok {
		t.Error("entry added to a snapshot leaked into store")
	}
}

func TestSetGameStateReplacesWholesale(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	store.SetGameState("G1", GameState{
		CurrentQuestion: json.RawMessage(`{"category":"80s hits","points":200}`),
		IsPlaying:       true,
	})

	// The engine treats the question as opaque and replaces everything.
	applied := store.SetGameState("G1", GameState{
		CurrentQuestion: json.RawMessage(`{"category":"movie themes","points":400}`),
	})
	if applied.IsPlaying {
		t.Error("stale isPlaying survived a wholesale replace")
	}
	if string(applied.CurrentQuestion) != `{"category":"movie themes","points":400}` {
		t.Errorf("currentQuestion = %s", applied.CurrentQuestion)
	}

	if got := store.Snapshot("G1"); string(got.CurrentQuestion) != string(applied.CurrentQuestion) {
		t.Error("snapshot disagrees with applied state")
	}
}

func TestSetGameStateCopiesInput(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	in := GameState{
		Scoreboard: map[string]TeamScore{"T1": {Name: "Alpha", Score: 10}},
	}
	store.SetGameState("G1", in)

	in.Scoreboard["T1"] = TeamScore{Name: "Mutated"}

	if got := store.Snapshot("G1").Scoreboard["T1"]; got.Name != "Alpha" {
		t.Errorf("caller mutation leaked into store: %+v", got)
	}
}

func TestArmReflectedInGameSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore(clock)

	armedAt := clock.Now()
	store.Arm("G1", armedAt)

	snap := store.Snapshot("G1")
	if snap.BuzzStartTime == nil || !snap.BuzzStartTime.Equal(armedAt) {
		t.Errorf("buzzStartTime = %v, want %v", snap.BuzzStartTime, armedAt)
	}

	clock.Advance(600 * time.Millisecond)
	store.Buzz(buzzAfter("G1", "P1", 550))

	snap = store.Snapshot("G1")
	if len(snap.BuzzOrder) != 1 || snap.BuzzOrder[0].PlayerID != "P1" {
		t.Errorf("game snapshot buzzOrder = %+v, want [P1]", snap.BuzzOrder)
	}
}

func TestIsolatedStoresInOneProcess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := NewStore(clock)
	b := NewStore(clock)

	a.Arm("G1", clock.Now())
	clock.Advance(time.Second)

	if res := a.Buzz(buzzAfter("G1", "P1", 700)); !res.Accepted {
		t.Fatalf("store a rejected buzz with %q", res.Reason)
	}
	if res := b.Buzz(buzzAfter("G1", "P1", 700)); res.Accepted {
		t.Error("store b accepted a buzz for a session it never armed")
	}
}
