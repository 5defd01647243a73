package state

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	DefaultUsername  = "Player"
	AdminUsername    = "Admin"
	SystemUsername   = "Server"
	DefaultAnimation = "idle"

	DefaultSkinColor  int64 = 0xFFFF00
	DefaultTorsoColor int64 = 0x0000FF
	DefaultLegsColor  int64 = 0x00FF00

	MaxColor int64 = 0xFFFFFF
)

// Spawn is where new players appear and where a players reset puts them back.
var Spawn = Vec3{X: 0, Y: 1, Z: 0}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Player is the live record of one connected session. It is never persisted.
type Player struct {
	ID         string  `json:"id"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Rotation   float64 `json:"rotation"`
	Username   string  `json:"username"`
	SkinColor  int64   `json:"skinColor"`
	TorsoColor int64   `json:"torsoColor"`
	LegsColor  int64   `json:"legsColor"`
	Animation  string  `json:"animation"`
	Walking    bool    `json:"walking"`
	VelocityY  float64 `json:"velocityY"`
	IsAdmin    bool    `json:"isAdmin"`
}

func NewPlayer(id string) Player {
	return Player{
		ID:         id,
		X:          Spawn.X,
		Y:          Spawn.Y,
		Z:          Spawn.Z,
		Username:   DefaultUsername,
		SkinColor:  DefaultSkinColor,
		TorsoColor: DefaultTorsoColor,
		LegsColor:  DefaultLegsColor,
		Animation:  DefaultAnimation,
	}
}

func (p Player) Pos() Vec3 { return Vec3{X: p.X, Y: p.Y, Z: p.Z} }

// PlayerPatch is a partial field set; nil fields are left untouched.
// It doubles as the wire shape of playerMoved/playerAnimated deltas.
type PlayerPatch struct {
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Z         *float64 `json:"z,omitempty"`
	Rotation  *float64 `json:"rotation,omitempty"`
	Username  *string  `json:"username,omitempty"`
	Animation *string  `json:"animation,omitempty"`
	Walking   *bool    `json:"walking,omitempty"`
	VelocityY *float64 `json:"velocityY,omitempty"`
}

func (pp PlayerPatch) applyTo(p *Player) {
	if pp.X != nil {
		p.X = *pp.X
	}
	if pp.Y != nil {
		p.Y = *pp.Y
	}
	if pp.Z != nil {
		p.Z = *pp.Z
	}
	if pp.Rotation != nil {
		p.Rotation = *pp.Rotation
	}
	if pp.Username != nil {
		p.Username = *pp.Username
	}
	if pp.Animation != nil {
		p.Animation = *pp.Animation
	}
	if pp.Walking != nil {
		p.Walking = *pp.Walking
	}
	if pp.VelocityY != nil {
		p.VelocityY = *pp.VelocityY
	}
}

// AppearanceField names one of the recolourable body parts.
type AppearanceField string

const (
	FieldSkin  AppearanceField = "skinColor"
	FieldTorso AppearanceField = "torsoColor"
	FieldLegs  AppearanceField = "legsColor"
)

func ParseAppearanceField(s string) (AppearanceField, bool) {
	switch AppearanceField(s) {
	case FieldSkin, FieldTorso, FieldLegs:
		return AppearanceField(s), true
	}
	return "", false
}

// Block is a placed world block. Its spatial/shape payload is opaque and is
// flattened next to the server-owned keys on the wire and on disk.
type Block struct {
	ID        string
	PlayerID  string
	Timestamp int64
	Payload   map[string]json.RawMessage
}

const (
	blockKeyID        = "id"
	blockKeyPlayerID  = "playerId"
	blockKeyTimestamp = "timestamp"
)

func isReservedBlockKey(k string) bool {
	return k == blockKeyID || k == blockKeyPlayerID || k == blockKeyTimestamp
}

func (b Block) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(b.Payload)+3)
	for k, v := range b.Payload {
		if isReservedBlockKey(k) {
			continue
		}
		m[k] = v
	}
	var err error
	if m[blockKeyID], err = json.Marshal(b.ID); err != nil {
		return nil, err
	}
	if m[blockKeyPlayerID], err = json.Marshal(b.PlayerID); err != nil {
		return nil, err
	}
	if m[blockKeyTimestamp], err = json.Marshal(b.Timestamp); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Block
	if raw, ok := m[blockKeyID]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("block id: %w", err)
		}
	}
	if raw, ok := m[blockKeyPlayerID]; ok {
		if err := json.Unmarshal(raw, &out.PlayerID); err != nil {
			return fmt.Errorf("block playerId: %w", err)
		}
	}
	if raw, ok := m[blockKeyTimestamp]; ok {
		if err := json.Unmarshal(raw, &out.Timestamp); err != nil {
			return fmt.Errorf("block timestamp: %w", err)
		}
	}
	for k, v := range m {
		if isReservedBlockKey(k) {
			continue
		}
		if out.Payload == nil {
			out.Payload = make(map[string]json.RawMessage, len(m))
		}
		out.Payload[k] = v
	}
	*b = out
	return nil
}

// Message is one chat history entry. Username is captured at send time.
type Message struct {
	SenderID string    `json:"id"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// Snapshot is a deep copy of the world used for init frames and inspection.
type Snapshot struct {
	Players  map[string]Player `json:"players"`
	Blocks   []Block           `json:"blocks"`
	Messages []Message         `json:"messages"`
}
