package state

import "cubeyard.io/internal/sim/world/logic/ids"

func newBlockID() string { return ids.NewBlockID() }
