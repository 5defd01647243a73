package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a random id for a freshly connected session.
func NewSessionID() string {
	return uuid.NewString()
}

// NewBlockID returns a ULID drawn from the process-wide monotonic source:
// ids minted in the same millisecond still differ and sort in creation order.
func NewBlockID() string {
	return ulid.Make().String()
}
