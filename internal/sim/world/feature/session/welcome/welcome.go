// Package welcome builds the init frame sent to a newly joined session.
package welcome

import "cubeyard.io/internal/sim/world/state"

// Init is the full-state frame. Blocks and messages are always arrays on the
// wire, even when empty.
type Init struct {
	ID       string                  `json:"id"`
	Players  map[string]state.Player `json:"players"`
	Blocks   []state.Block           `json:"blocks"`
	Messages []state.Message         `json:"messages"`
}

func Build(selfID string, snap state.Snapshot) Init {
	in := Init{
		ID:       selfID,
		Players:  snap.Players,
		Blocks:   snap.Blocks,
		Messages: snap.Messages,
	}
	if in.Players == nil {
		in.Players = map[string]state.Player{}
	}
	if in.Blocks == nil {
		in.Blocks = []state.Block{}
	}
	if in.Messages == nil {
		in.Messages = []state.Message{}
	}
	return in
}
