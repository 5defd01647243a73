package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// memGateway keeps JSON-encoded documents, like a real backend would.
type memGateway struct {
	mu    sync.Mutex
	docs  map[string][]byte
	saves map[string]int
	fail  error
}

func newMemGateway() *memGateway {
	return &memGateway{docs: map[string][]byte{}, saves: map[string]int{}}
}

func (g *memGateway) Load(key string, dst any) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.docs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (g *memGateway) Save(key string, doc any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves[key]++
	if g.fail != nil {
		return g.fail
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	g.docs[key] = b
	return nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestStore(t *testing.T, gw Gateway, capacity int) *Store {
	t.Helper()
	n := 0
	s, err := Open(gw, Config{
		MessageCapacity: capacity,
		Now:             func() time.Time { return time.UnixMilli(1_700_000_000_000) },
		NewBlockID: func() string {
			n++
			return fmt.Sprintf("B%03d", n)
		},
	}, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func TestCreateAndRemovePlayer(t *testing.T) {
	s := newTestStore(t, nil, 0)
	p := s.CreatePlayer("S1")
	if p.ID != "S1" || p.Username != DefaultUsername || p.Y != 1 || p.IsAdmin {
		t.Fatalf("unexpected default player: %+v", p)
	}
	if p.SkinColor != DefaultSkinColor || p.TorsoColor != DefaultTorsoColor || p.LegsColor != DefaultLegsColor {
		t.Fatalf("unexpected default colours: %+v", p)
	}
	if !s.RemovePlayer("S1") {
		t.Fatalf("expected first removal to report presence")
	}
	if s.RemovePlayer("S1") {
		t.Fatalf("expected second removal to be a no-op")
	}
}

func TestApplyPlayerFields_MergesOnlyGivenFields(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.CreatePlayer("S1")
	x, anim := 1.5, "walk"
	p, ok := s.ApplyPlayerFields("S1", PlayerPatch{X: &x, Animation: &anim})
	if !ok {
		t.Fatalf("expected player")
	}
	if p.X != 1.5 || p.Y != 1 || p.Z != 0 || p.Animation != "walk" || p.Username != DefaultUsername {
		t.Fatalf("unexpected merge result: %+v", p)
	}
	if _, ok := s.ApplyPlayerFields("missing", PlayerPatch{X: &x}); ok {
		t.Fatalf("expected unknown player to be a no-op")
	}
}

func TestSetAppearanceField_Whitelist(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.CreatePlayer("S1")
	if !s.SetAppearanceField("S1", FieldTorso, 0x123456) {
		t.Fatalf("expected torso update")
	}
	if s.SetAppearanceField("S1", AppearanceField("hatColor"), 1) {
		t.Fatalf("expected unknown field to be refused")
	}
	p, _ := s.Player("S1")
	if p.TorsoColor != 0x123456 {
		t.Fatalf("torso colour not applied: %x", p.TorsoColor)
	}
}

func TestAddMessage_EvictsOldestOverCapacity(t *testing.T) {
	gw := newMemGateway()
	s := newTestStore(t, gw, 100)
	s.CreatePlayer("S1")
	for i := 0; i < 100; i++ {
		if _, ok := s.AddMessage("S1", fmt.Sprintf("m%d", i)); !ok {
			t.Fatalf("add message %d failed", i)
		}
	}
	if got := len(s.Messages()); got != 100 {
		t.Fatalf("expected 100 messages, got %d", got)
	}
	s.AddMessage("S1", "m100")
	msgs := s.Messages()
	if len(msgs) != 100 {
		t.Fatalf("history exceeded capacity: %d", len(msgs))
	}
	if msgs[0].Text != "m1" || msgs[99].Text != "m100" {
		t.Fatalf("expected exactly the oldest evicted, got first=%q last=%q", msgs[0].Text, msgs[99].Text)
	}

	var persisted []Message
	if _, err := gw.Load(KeyMessages, &persisted); err != nil {
		t.Fatalf("load persisted: %v", err)
	}
	if len(persisted) != 100 || persisted[0].Text != "m1" {
		t.Fatalf("persisted history mismatch: len=%d", len(persisted))
	}
}

func TestAddMessage_CapturesUsernameAtSendTime(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.CreatePlayer("S1")
	m, _ := s.AddMessage("S1", "hello")
	name := "renamed"
	s.ApplyPlayerFields("S1", PlayerPatch{Username: &name})
	if m.Username != DefaultUsername || s.Messages()[0].Username != DefaultUsername {
		t.Fatalf("username should be captured at send time")
	}
	if _, ok := s.AddMessage("ghost", "boo"); ok {
		t.Fatalf("departed sender should be a no-op")
	}
}

func TestAddBlock_AssignsIDAndPassesPayloadThrough(t *testing.T) {
	gw := newMemGateway()
	s := newTestStore(t, gw, 0)
	b := s.AddBlock(map[string]json.RawMessage{
		"x":        json.RawMessage(`3`),
		"type":     json.RawMessage(`"stone"`),
		"id":       json.RawMessage(`"spoofed"`),
		"playerId": json.RawMessage(`"someone-else"`),
	}, "S1")
	if b.ID != "B001" || b.PlayerID != "S1" || b.Timestamp != 1_700_000_000_000 {
		t.Fatalf("unexpected canonical block: %+v", b)
	}
	if _, ok := b.Payload["id"]; ok {
		t.Fatalf("reserved keys must not survive in payload")
	}

	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal block: %v", err)
	}
	want := `{"id":"B001","playerId":"S1","timestamp":1700000000000,"type":"stone","x":3}`
	if string(raw) != want {
		t.Fatalf("wire form mismatch:\n got %s\nwant %s", raw, want)
	}
	if gw.saves[KeyBlocks] != 1 {
		t.Fatalf("expected one write-through, got %d", gw.saves[KeyBlocks])
	}
}

func TestRemoveBlockAndReset(t *testing.T) {
	gw := newMemGateway()
	s := newTestStore(t, gw, 0)
	s.CreatePlayer("S1")
	s.AddBlock(nil, "S1")
	b2 := s.AddBlock(nil, "S1")
	s.AddBlock(nil, "S1")
	s.AddMessage("S1", "hi")

	if !s.RemoveBlock(b2.ID) {
		t.Fatalf("expected removal")
	}
	if s.RemoveBlock(b2.ID) {
		t.Fatalf("second removal should report absence")
	}
	blocks := s.Blocks()
	if len(blocks) != 2 || blocks[0].ID != "B001" || blocks[1].ID != "B003" {
		t.Fatalf("order not preserved after removal: %+v", blocks)
	}

	s.ResetWorld()
	if c := s.Counts(); c.Blocks != 0 || c.Messages != 0 || c.Players != 1 {
		t.Fatalf("unexpected counts after reset: %+v", c)
	}
	var persistedBlocks []Block
	var persistedMsgs []Message
	_, _ = gw.Load(KeyBlocks, &persistedBlocks)
	_, _ = gw.Load(KeyMessages, &persistedMsgs)
	if len(persistedBlocks) != 0 || len(persistedMsgs) != 0 {
		t.Fatalf("reset not persisted: blocks=%d msgs=%d", len(persistedBlocks), len(persistedMsgs))
	}
}

func TestPersistFailureDoesNotRollBack(t *testing.T) {
	gw := newMemGateway()
	gw.fail = errors.New("disk full")
	s := newTestStore(t, gw, 0)
	s.CreatePlayer("S1")
	s.AddBlock(nil, "S1")
	s.AddMessage("S1", "still here")
	c := s.Counts()
	if c.Blocks != 1 || c.Messages != 1 {
		t.Fatalf("in-memory state must survive persistence failure: %+v", c)
	}
	if c.PersistFailures != 2 {
		t.Fatalf("expected 2 persist failures, got %d", c.PersistFailures)
	}
}

func TestOpen_ReloadsPersistedDocuments(t *testing.T) {
	gw := newMemGateway()
	s := newTestStore(t, gw, 5)
	s.CreatePlayer("S1")
	s.AddBlock(map[string]json.RawMessage{"x": json.RawMessage(`1`)}, "S1")
	for i := 0; i < 3; i++ {
		s.AddMessage("S1", fmt.Sprintf("m%d", i))
	}

	// Restart with a smaller history: players are gone, documents come back trimmed.
	s2 := newTestStore(t, gw, 2)
	c := s2.Counts()
	if c.Players != 0 || c.Blocks != 1 || c.Messages != 2 {
		t.Fatalf("unexpected counts after reload: %+v", c)
	}
	if s2.Messages()[0].Text != "m1" {
		t.Fatalf("expected oldest trimmed on load, got %q", s2.Messages()[0].Text)
	}
	if string(s2.Blocks()[0].Payload["x"]) != "1" {
		t.Fatalf("payload lost across reload")
	}
}

func TestResetPlayersKeepsIdentity(t *testing.T) {
	s := newTestStore(t, nil, 0)
	s.CreatePlayer("S1")
	s.Promote("S1")
	x := 9.0
	s.ApplyPlayerFields("S1", PlayerPatch{X: &x})
	s.SetAppearanceField("S1", FieldLegs, 0x111111)

	out := s.ResetPlayers()
	p := out["S1"]
	if p.X != Spawn.X || p.LegsColor != DefaultLegsColor {
		t.Fatalf("pose/colours not reset: %+v", p)
	}
	if !p.IsAdmin || p.Username != AdminUsername {
		t.Fatalf("admin flag and username must survive: %+v", p)
	}
}

func TestAddSystemMessage(t *testing.T) {
	s := newTestStore(t, nil, 0)
	m := s.AddSystemMessage("maintenance soon")
	if m.SenderID != "" || m.Username != SystemUsername {
		t.Fatalf("system message must be unattributed: %+v", m)
	}
	s.ResetChat()
	if len(s.Messages()) != 0 {
		t.Fatalf("chat reset left messages behind")
	}
}
