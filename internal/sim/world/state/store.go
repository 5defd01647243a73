package state

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Document keys understood by the persistence gateway.
const (
	KeyBlocks   = "blocks"
	KeyMessages = "messages"
)

const DefaultMessageCapacity = 100

// Gateway loads and saves whole documents by key.
// Load reports found=false (and leaves dst untouched) when the key is absent.
type Gateway interface {
	Load(key string, dst any) (found bool, err error)
	Save(key string, doc any) error
}

type Config struct {
	MessageCapacity int

	// Optional hooks (tests).
	Now        func() time.Time
	NewBlockID func() string
}

// Store is the authoritative in-memory world: players, blocks and chat history.
// It is not safe for concurrent use; the world loop goroutine owns it.
type Store struct {
	cfg Config
	gw  Gateway
	log *log.Logger

	players  map[string]*Player
	blocks   []Block
	messages []Message

	persistFailures uint64
}

// Open builds a store and loads the persisted blocks and messages through gw.
// A nil gw yields a purely in-memory store.
func Open(gw Gateway, cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.MessageCapacity <= 0 {
		cfg.MessageCapacity = DefaultMessageCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewBlockID == nil {
		cfg.NewBlockID = newBlockID
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[store] ", log.LstdFlags|log.Lmicroseconds)
	}
	s := &Store{
		cfg:     cfg,
		gw:      gw,
		log:     logger,
		players: map[string]*Player{},
	}
	if gw == nil {
		return s, nil
	}
	if _, err := gw.Load(KeyBlocks, &s.blocks); err != nil {
		return nil, fmt.Errorf("load %s: %w", KeyBlocks, err)
	}
	if _, err := gw.Load(KeyMessages, &s.messages); err != nil {
		return nil, fmt.Errorf("load %s: %w", KeyMessages, err)
	}
	if n := len(s.messages); n > cfg.MessageCapacity {
		s.messages = append([]Message(nil), s.messages[n-cfg.MessageCapacity:]...)
	}
	return s, nil
}

func (s *Store) CreatePlayer(id string) Player {
	p := NewPlayer(id)
	s.players[id] = &p
	return p
}

// RemovePlayer reports whether id was present.
func (s *Store) RemovePlayer(id string) bool {
	if _, ok := s.players[id]; !ok {
		return false
	}
	delete(s.players, id)
	return true
}

func (s *Store) Player(id string) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

func (s *Store) ApplyPlayerFields(id string, patch PlayerPatch) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	patch.applyTo(p)
	return *p, true
}

func (s *Store) SetAppearanceField(id string, field AppearanceField, value int64) bool {
	p, ok := s.players[id]
	if !ok {
		return false
	}
	switch field {
	case FieldSkin:
		p.SkinColor = value
	case FieldTorso:
		p.TorsoColor = value
	case FieldLegs:
		p.LegsColor = value
	default:
		return false
	}
	return true
}

// Promote marks the player as admin and renames it. The flag is never cleared.
func (s *Store) Promote(id string) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	p.IsAdmin = true
	p.Username = AdminUsername
	return *p, true
}

func (s *Store) MovePlayer(id string, delta Vec3) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	pos := p.Pos().Add(delta)
	p.X, p.Y, p.Z = pos.X, pos.Y, pos.Z
	return *p, true
}

// ResetPlayers puts every player back to spawn with default pose and colours.
// Ids, usernames and admin flags survive.
func (s *Store) ResetPlayers() map[string]Player {
	out := make(map[string]Player, len(s.players))
	for id, p := range s.players {
		fresh := NewPlayer(id)
		fresh.Username = p.Username
		fresh.IsAdmin = p.IsAdmin
		*p = fresh
		out[id] = fresh
	}
	return out
}

func (s *Store) AddBlock(payload map[string]json.RawMessage, placerID string) Block {
	b := Block{
		ID:        s.cfg.NewBlockID(),
		PlayerID:  placerID,
		Timestamp: s.cfg.Now().UnixMilli(),
		Payload:   make(map[string]json.RawMessage, len(payload)),
	}
	for k, v := range payload {
		if isReservedBlockKey(k) {
			continue
		}
		b.Payload[k] = append(json.RawMessage(nil), v...)
	}
	s.blocks = append(s.blocks, b)
	s.persist(KeyBlocks, s.blocks)
	return b
}

// RemoveBlock reports whether a block with id existed.
func (s *Store) RemoveBlock(id string) bool {
	kept := s.blocks[:0]
	removed := false
	for _, b := range s.blocks {
		if b.ID == id {
			removed = true
			continue
		}
		kept = append(kept, b)
	}
	if !removed {
		return false
	}
	// Clear the tail so the dropped block does not linger in the backing array.
	for i := len(kept); i < len(s.blocks); i++ {
		s.blocks[i] = Block{}
	}
	s.blocks = kept
	s.persist(KeyBlocks, s.blocks)
	return true
}

func (s *Store) ResetWorld() {
	s.blocks = nil
	s.messages = nil
	s.persist(KeyBlocks, []Block{})
	s.persist(KeyMessages, []Message{})
}

// AddMessage appends a chat line from a connected player.
func (s *Store) AddMessage(senderID, text string) (Message, bool) {
	p, ok := s.players[senderID]
	if !ok {
		return Message{}, false
	}
	return s.appendMessage(Message{
		SenderID: senderID,
		Username: p.Username,
		Text:     text,
		Time:     s.cfg.Now().UTC(),
	}), true
}

// AddSystemMessage appends an unattributed line.
func (s *Store) AddSystemMessage(text string) Message {
	return s.appendMessage(Message{
		Username: SystemUsername,
		Text:     text,
		Time:     s.cfg.Now().UTC(),
	})
}

func (s *Store) appendMessage(m Message) Message {
	s.messages = append(s.messages, m)
	if over := len(s.messages) - s.cfg.MessageCapacity; over > 0 {
		n := copy(s.messages, s.messages[over:])
		for i := n; i < len(s.messages); i++ {
			s.messages[i] = Message{}
		}
		s.messages = s.messages[:n]
	}
	s.persist(KeyMessages, s.messages)
	return m
}

func (s *Store) ResetChat() {
	s.messages = nil
	s.persist(KeyMessages, []Message{})
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Players:  make(map[string]Player, len(s.players)),
		Blocks:   make([]Block, len(s.blocks)),
		Messages: make([]Message, len(s.messages)),
	}
	for id, p := range s.players {
		snap.Players[id] = *p
	}
	copy(snap.Blocks, s.blocks)
	copy(snap.Messages, s.messages)
	return snap
}

func (s *Store) Players() map[string]Player { return s.Snapshot().Players }

func (s *Store) Blocks() []Block {
	out := make([]Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

type Counts struct {
	Players         int
	Blocks          int
	Messages        int
	PersistFailures uint64
}

func (s *Store) Counts() Counts {
	return Counts{
		Players:         len(s.players),
		Blocks:          len(s.blocks),
		Messages:        len(s.messages),
		PersistFailures: s.persistFailures,
	}
}

// persist writes doc through the gateway. Failures are logged and counted;
// the in-memory mutation stands either way.
func (s *Store) persist(key string, doc any) {
	if s.gw == nil {
		return
	}
	if err := s.gw.Save(key, doc); err != nil {
		s.persistFailures++
		s.log.Printf("persist %s: %v", key, err)
	}
}
