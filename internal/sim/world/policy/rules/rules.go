package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"cubeyard.io/internal/protocol"
	"cubeyard.io/internal/sim/world/state"
)

// Limits are the tunable bounds applied to inbound mutations.
type Limits struct {
	MoveBound            float64
	UsernameMaxLen       int
	ChatMaxLen           int
	AnimationMaxLen      int
	BlockPayloadMaxBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MoveBound:            2,
		UsernameMaxLen:       20,
		ChatMaxLen:           200,
		AnimationMaxLen:      32,
		BlockPayloadMaxBytes: 4096,
	}
}

// Result is the verdict on one request.
type Result struct {
	OK     bool
	Code   string
	Reason string
}

func Accept() Result { return Result{OK: true} }

func Reject(code, format string, args ...any) Result {
	return Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// CheckMove rejects non-finite coordinates and horizontal jumps larger than
// the bound on either x or z. Vertical motion is not bounded.
func CheckMove(l Limits, from, to state.Vec3, rotation *float64) Result {
	if !finite(to.X) || !finite(to.Y) || !finite(to.Z) {
		return Reject(protocol.ErrBadRequest, "position must be finite")
	}
	if rotation != nil && !finite(*rotation) {
		return Reject(protocol.ErrBadRequest, "rotation must be finite")
	}
	if dx := math.Abs(to.X - from.X); dx > l.MoveBound {
		return Reject(protocol.ErrTooFar, "x moved %.3f > %.3f", dx, l.MoveBound)
	}
	if dz := math.Abs(to.Z - from.Z); dz > l.MoveBound {
		return Reject(protocol.ErrTooFar, "z moved %.3f > %.3f", dz, l.MoveBound)
	}
	return Accept()
}

// CheckUsername returns the trimmed name when it is acceptable.
func CheckUsername(l Limits, name string) (string, Result) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Reject(protocol.ErrBadRequest, "empty username")
	}
	if n := utf8.RuneCountInString(name); n > l.UsernameMaxLen {
		return "", Reject(protocol.ErrTooLong, "username has %d runes > %d", n, l.UsernameMaxLen)
	}
	return name, Accept()
}

func CheckChat(l Limits, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Reject(protocol.ErrBadRequest, "empty message")
	}
	if n := utf8.RuneCountInString(text); n > l.ChatMaxLen {
		return Reject(protocol.ErrTooLong, "message has %d runes > %d", n, l.ChatMaxLen)
	}
	return Accept()
}

func CheckAppearance(part string, color int64) (state.AppearanceField, Result) {
	field, ok := state.ParseAppearanceField(part)
	if !ok {
		return "", Reject(protocol.ErrBadRequest, "unknown appearance field %q", part)
	}
	if color < 0 || color > state.MaxColor {
		return "", Reject(protocol.ErrBadRequest, "color %d out of range", color)
	}
	return field, Accept()
}

func CheckAnimation(l Limits, animation string, velocityY *float64) Result {
	if animation == "" {
		return Reject(protocol.ErrBadRequest, "empty animation")
	}
	if n := utf8.RuneCountInString(animation); n > l.AnimationMaxLen {
		return Reject(protocol.ErrTooLong, "animation has %d runes > %d", n, l.AnimationMaxLen)
	}
	if velocityY != nil && !finite(*velocityY) {
		return Reject(protocol.ErrBadRequest, "velocityY must be finite")
	}
	return Accept()
}

func CheckBlockPayload(l Limits, payload map[string]json.RawMessage) Result {
	if payload == nil {
		return Reject(protocol.ErrBadRequest, "block payload must be an object")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Reject(protocol.ErrBadRequest, "block payload: %v", err)
	}
	if len(b) > l.BlockPayloadMaxBytes {
		return Reject(protocol.ErrTooLong, "block payload is %d bytes > %d", len(b), l.BlockPayloadMaxBytes)
	}
	return Accept()
}

// Direction maps an admin move command onto a unit step.
func Direction(name string) (state.Vec3, bool) {
	switch name {
	case "north":
		return state.Vec3{Z: -1}, true
	case "south":
		return state.Vec3{Z: 1}, true
	case "east":
		return state.Vec3{X: 1}, true
	case "west":
		return state.Vec3{X: -1}, true
	case "up":
		return state.Vec3{Y: 1}, true
	case "down":
		return state.Vec3{Y: -1}, true
	}
	return state.Vec3{}, false
}

func Scale(v state.Vec3, k float64) state.Vec3 {
	return state.Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}
