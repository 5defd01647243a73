package world

import (
	adminhandlerspkg "cubeyard.io/internal/sim/world/feature/admin/handlers"
	adminrequestspkg "cubeyard.io/internal/sim/world/feature/admin/requests"
)

// systemActor attributes resets that come from the local admin HTTP surface.
const systemActor = "SYSTEM"

func (w *World) handleAdminReset(req adminrequestspkg.ResetReq) {
	resp := adminhandlerspkg.HandleReset(adminhandlerspkg.ResetInput{
		Scope:     req.Scope,
		OnWorld:   func() { w.resetWorld(systemActor) },
		OnChat:    func() { w.resetChat(systemActor) },
		OnPlayers: func() { w.resetPlayers(systemActor) },
	})
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- resp:
	default:
		// Caller gave up; don't block the loop.
	}
}
