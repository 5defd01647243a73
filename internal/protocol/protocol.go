package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1"

// Inbound event types (client -> server).
const (
	TypeUpdate          = "update"
	TypeSendMessage     = "sendMessage"
	TypeUpdateColor     = "updateColor"
	TypeUpdateUsername  = "updateUsername"
	TypeUpdateAnimation = "updateAnimation"
	TypePlaceBlock      = "placeBlock"
	TypeRemoveBlock     = "removeBlock"
	TypeAdminAuth       = "adminAuth"
	TypeAdminMove       = "adminMove"
	TypeAdminMessage    = "adminMessage"
	TypeResetWorld      = "resetWorld"
	TypeResetChat       = "resetChat"
	TypeResetPlayers    = "resetPlayers"
)

// Outbound event types (server -> client).
const (
	TypeInit               = "init"
	TypePlayerJoined       = "playerJoined"
	TypePlayerMoved        = "playerMoved"
	TypePlayerColorChanged = "playerColorChanged"
	TypePlayerRenamed      = "playerRenamed"
	TypePlayerAnimated     = "playerAnimated"
	TypeReceiveMessage     = "receiveMessage"
	TypeBlockPlaced        = "blockPlaced"
	TypeBlockRemoved       = "blockRemoved"
	TypeWorldReset         = "worldReset"
	TypeChatReset          = "chatReset"
	TypePlayersReset       = "playersReset"
	TypePlayerLeft         = "playerLeft"
	TypeAdminAuthSuccess   = "adminAuthSuccess"
	TypeAdminAuthFail      = "adminAuthFail"
	TypeRequestRejected    = "requestRejected"
)

// Envelope is the frame shape in both directions: an event name plus its payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func DecodeBase(b []byte) (Envelope, error) {
	var m Envelope
	err := json.Unmarshal(b, &m)
	return m, err
}

// Encode wraps data into an Envelope. A nil data produces a bare signal frame.
func Encode(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
