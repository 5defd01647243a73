package handlers

import "cubeyard.io/internal/sim/world/feature/admin/requests"

// AuthOutcome is what the loop does with an adminAuth attempt.
type AuthOutcome int

const (
	AuthFail AuthOutcome = iota
	// AuthGranted promotes the session and announces the new name.
	AuthGranted
	// AuthReaffirmed acknowledges a session that is already admin.
	AuthReaffirmed
)

// HandleAuth decides an attempt from the pre-verified credential check.
// A failed attempt never demotes an existing admin.
func HandleAuth(alreadyAdmin, verified bool) AuthOutcome {
	switch {
	case !verified:
		return AuthFail
	case alreadyAdmin:
		return AuthReaffirmed
	default:
		return AuthGranted
	}
}

type ResetInput struct {
	Scope     requests.Scope
	OnWorld   func()
	OnChat    func()
	OnPlayers func()
}

func HandleReset(input ResetInput) requests.ResetResp {
	resp := requests.ResetResp{Scope: input.Scope}
	var fn func()
	switch input.Scope {
	case requests.ScopeWorld:
		fn = input.OnWorld
	case requests.ScopeChat:
		fn = input.OnChat
	case requests.ScopePlayers:
		fn = input.OnPlayers
	default:
		resp.Err = "unknown reset scope"
		return resp
	}
	if fn == nil {
		resp.Err = "reset not supported"
		return resp
	}
	fn()
	return resp
}
