package welcome

import (
	"encoding/json"
	"testing"

	"cubeyard.io/internal/sim/world/state"
)

func TestBuild_EmptyWorldUsesArrays(t *testing.T) {
	msg := Build("S1", state.Snapshot{})
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"S1","players":{},"blocks":[],"messages":[]}`
	if string(b) != want {
		t.Fatalf("init mismatch:\n got %s\nwant %s", b, want)
	}
}

func TestBuild_IncludesSelf(t *testing.T) {
	snap := state.Snapshot{Players: map[string]state.Player{"S1": state.NewPlayer("S1")}}
	msg := Build("S1", snap)
	if msg.ID != "S1" {
		t.Fatalf("unexpected id: %s", msg.ID)
	}
	if p, ok := msg.Players["S1"]; !ok || p.Username != state.DefaultUsername {
		t.Fatalf("self missing from players: %+v", msg.Players)
	}
}
