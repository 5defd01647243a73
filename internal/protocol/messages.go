package protocol

import "encoding/json"

// Request is one decoded inbound event.
type Request interface {
	RequestType() string
}

// update (client -> server)
type UpdateReq struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Z        float64  `json:"z"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// sendMessage (client -> server)
type SendMessageReq struct {
	Text string `json:"text"`
}

// updateColor (client -> server)
type UpdateColorReq struct {
	Part  string `json:"part"`
	Color int64  `json:"color"`
}

// updateUsername (client -> server); the payload is a bare string.
type UpdateUsernameReq struct {
	Username string
}

// updateAnimation (client -> server)
type UpdateAnimationReq struct {
	Animation string   `json:"animation"`
	Walking   *bool    `json:"walking,omitempty"`
	VelocityY *float64 `json:"velocityY,omitempty"`
}

// placeBlock (client -> server); the payload is opaque to the server.
type PlaceBlockReq struct {
	Payload map[string]json.RawMessage
}

// removeBlock (client -> server, admin); the payload is the block id.
type RemoveBlockReq struct {
	ID string
}

// adminAuth (client -> server); the payload is the credential.
type AdminAuthReq struct {
	Credential string
}

// adminMove (client -> server, admin)
type AdminMoveReq struct {
	Target    string `json:"target"`
	Direction string `json:"direction"`
}

// adminMessage (client -> server, admin); the payload is the text.
type AdminMessageReq struct {
	Text string
}

type ResetWorldReq struct{}

type ResetChatReq struct{}

type ResetPlayersReq struct{}

func (UpdateReq) RequestType() string          { return TypeUpdate }
func (SendMessageReq) RequestType() string     { return TypeSendMessage }
func (UpdateColorReq) RequestType() string     { return TypeUpdateColor }
func (UpdateUsernameReq) RequestType() string  { return TypeUpdateUsername }
func (UpdateAnimationReq) RequestType() string { return TypeUpdateAnimation }
func (PlaceBlockReq) RequestType() string      { return TypePlaceBlock }
func (RemoveBlockReq) RequestType() string     { return TypeRemoveBlock }
func (AdminAuthReq) RequestType() string       { return TypeAdminAuth }
func (AdminMoveReq) RequestType() string       { return TypeAdminMove }
func (AdminMessageReq) RequestType() string    { return TypeAdminMessage }
func (ResetWorldReq) RequestType() string      { return TypeResetWorld }
func (ResetChatReq) RequestType() string       { return TypeResetChat }
func (ResetPlayersReq) RequestType() string    { return TypeResetPlayers }

// requestRejected (server -> client); only sent when rejection notices are enabled.
type RejectedMsg struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}
