package world

import (
	"cubeyard.io/internal/protocol"
	adminhandlerspkg "cubeyard.io/internal/sim/world/feature/admin/handlers"
	"cubeyard.io/internal/sim/world/policy/rules"
	"cubeyard.io/internal/sim/world/state"
)

// Outbound payloads that are not a whole store record.
type (
	playerMovedMsg struct {
		ID       string   `json:"id"`
		X        float64  `json:"x"`
		Y        float64  `json:"y"`
		Z        float64  `json:"z"`
		Rotation *float64 `json:"rotation,omitempty"`
	}
	playerColorMsg struct {
		ID    string `json:"id"`
		Part  string `json:"part"`
		Color int64  `json:"color"`
	}
	playerRenamedMsg struct {
		ID       string `json:"id"`
		OldName  string `json:"oldName"`
		Username string `json:"username"`
	}
	playerAnimatedMsg struct {
		ID        string  `json:"id"`
		Animation string  `json:"animation"`
		Walking   bool    `json:"walking"`
		VelocityY float64 `json:"velocityY"`
	}
)

func (w *World) handleRequest(env Envelope) {
	s, ok := w.sessions[env.SessionID]
	if !ok || env.Req == nil {
		// Departed session; trailing requests are dropped.
		return
	}
	p, ok := w.store.Player(s.id)
	if !ok {
		return
	}

	switch req := env.Req.(type) {
	case protocol.UpdateReq:
		w.handleUpdate(s, p, req)
	case protocol.SendMessageReq:
		w.handleSendMessage(s, req)
	case protocol.UpdateColorReq:
		w.handleUpdateColor(s, req)
	case protocol.UpdateUsernameReq:
		w.handleUpdateUsername(s, p, req)
	case protocol.UpdateAnimationReq:
		w.handleUpdateAnimation(s, req)
	case protocol.PlaceBlockReq:
		w.handlePlaceBlock(s, req)
	case protocol.AdminAuthReq:
		w.handleAdminAuth(s, env.verified)
	case protocol.RemoveBlockReq:
		if w.requireAdmin(s, req) {
			w.handleRemoveBlock(s, req)
		}
	case protocol.AdminMoveReq:
		if w.requireAdmin(s, req) {
			w.handleAdminMove(s, req)
		}
	case protocol.AdminMessageReq:
		if w.requireAdmin(s, req) {
			w.handleAdminMessage(s, req)
		}
	case protocol.ResetWorldReq:
		if w.requireAdmin(s, req) {
			w.resetWorld(s.id)
		}
	case protocol.ResetChatReq:
		if w.requireAdmin(s, req) {
			w.resetChat(s.id)
		}
	case protocol.ResetPlayersReq:
		if w.requireAdmin(s, req) {
			w.resetPlayers(s.id)
		}
	default:
		w.reject(s, env.Req.RequestType(), rules.Reject(protocol.ErrProtoUnknown, "unhandled request"))
	}
}

// reject counts the refusal. The sender is told only when notices are on.
func (w *World) reject(s *session, typ string, res rules.Result) {
	w.rejected++
	if !w.cfg.RejectNotices {
		return
	}
	w.sendTo(s, protocol.TypeRequestRejected, protocol.RejectedMsg{Type: typ, Code: res.Code, Reason: res.Reason})
}

func (w *World) requireAdmin(s *session, req protocol.Request) bool {
	if s.auth.IsAdmin() {
		return true
	}
	w.reject(s, req.RequestType(), rules.Reject(protocol.ErrNoPermission, "admin only"))
	return false
}

func (w *World) handleUpdate(s *session, p state.Player, req protocol.UpdateReq) {
	to := state.Vec3{X: req.X, Y: req.Y, Z: req.Z}
	if res := rules.CheckMove(w.cfg.Limits, p.Pos(), to, req.Rotation); !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	w.store.ApplyPlayerFields(s.id, state.PlayerPatch{X: &req.X, Y: &req.Y, Z: &req.Z, Rotation: req.Rotation})
	w.emit(s.id, toOthers, protocol.TypePlayerMoved, playerMovedMsg{
		ID: s.id, X: req.X, Y: req.Y, Z: req.Z, Rotation: req.Rotation,
	})
}

func (w *World) handleSendMessage(s *session, req protocol.SendMessageReq) {
	if res := rules.CheckChat(w.cfg.Limits, req.Text); !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	m, ok := w.store.AddMessage(s.id, req.Text)
	if !ok {
		return
	}
	w.emit(s.id, toEveryone, protocol.TypeReceiveMessage, m)
}

func (w *World) handleUpdateColor(s *session, req protocol.UpdateColorReq) {
	field, res := rules.CheckAppearance(req.Part, req.Color)
	if !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	if !w.store.SetAppearanceField(s.id, field, req.Color) {
		return
	}
	w.emit(s.id, toOthers, protocol.TypePlayerColorChanged, playerColorMsg{ID: s.id, Part: string(field), Color: req.Color})
}

func (w *World) handleUpdateUsername(s *session, p state.Player, req protocol.UpdateUsernameReq) {
	name, res := rules.CheckUsername(w.cfg.Limits, req.Username)
	if !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	w.store.ApplyPlayerFields(s.id, state.PlayerPatch{Username: &name})
	w.emit(s.id, toEveryone, protocol.TypePlayerRenamed, playerRenamedMsg{ID: s.id, OldName: p.Username, Username: name})
}

func (w *World) handleUpdateAnimation(s *session, req protocol.UpdateAnimationReq) {
	if res := rules.CheckAnimation(w.cfg.Limits, req.Animation, req.VelocityY); !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	p, ok := w.store.ApplyPlayerFields(s.id, state.PlayerPatch{
		Animation: &req.Animation,
		Walking:   req.Walking,
		VelocityY: req.VelocityY,
	})
	if !ok {
		return
	}
	w.emit(s.id, toOthers, protocol.TypePlayerAnimated, playerAnimatedMsg{
		ID: s.id, Animation: p.Animation, Walking: p.Walking, VelocityY: p.VelocityY,
	})
}

func (w *World) handlePlaceBlock(s *session, req protocol.PlaceBlockReq) {
	if res := rules.CheckBlockPayload(w.cfg.Limits, req.Payload); !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	b := w.store.AddBlock(req.Payload, s.id)
	w.emit(s.id, toEveryone, protocol.TypeBlockPlaced, b)
}

func (w *World) handleAdminAuth(s *session, verified bool) {
	switch adminhandlerspkg.HandleAuth(s.auth.IsAdmin(), verified) {
	case adminhandlerspkg.AuthFail:
		w.rejected++
		w.sendTo(s, protocol.TypeAdminAuthFail, nil)
		w.auditEvent(s.id, "ADMIN_AUTH_FAIL", s.id, "")
	case adminhandlerspkg.AuthReaffirmed:
		w.sendTo(s, protocol.TypeAdminAuthSuccess, nil)
	case adminhandlerspkg.AuthGranted:
		s.auth.Grant()
		p, ok := w.store.Promote(s.id)
		if !ok {
			return
		}
		w.sendTo(s, protocol.TypeAdminAuthSuccess, nil)
		w.emit(s.id, toEveryone, protocol.TypePlayerJoined, p)
		w.auditEvent(s.id, "ADMIN_AUTH", s.id, "")
	}
}

func (w *World) handleRemoveBlock(s *session, req protocol.RemoveBlockReq) {
	if !w.store.RemoveBlock(req.ID) {
		w.reject(s, req.RequestType(), rules.Reject(protocol.ErrInvalidTarget, "unknown block %q", req.ID))
		return
	}
	w.emit(s.id, toEveryone, protocol.TypeBlockRemoved, req.ID)
	w.auditEvent(s.id, "REMOVE_BLOCK", req.ID, "")
}

func (w *World) handleAdminMove(s *session, req protocol.AdminMoveReq) {
	dir, ok := rules.Direction(req.Direction)
	if !ok {
		w.reject(s, req.RequestType(), rules.Reject(protocol.ErrBadRequest, "unknown direction %q", req.Direction))
		return
	}
	p, ok := w.store.MovePlayer(req.Target, rules.Scale(dir, w.cfg.AdminMoveStep))
	if !ok {
		w.reject(s, req.RequestType(), rules.Reject(protocol.ErrInvalidTarget, "unknown player %q", req.Target))
		return
	}
	w.emit(s.id, toEveryone, protocol.TypePlayerMoved, playerMovedMsg{ID: p.ID, X: p.X, Y: p.Y, Z: p.Z})
	w.auditEvent(s.id, "ADMIN_MOVE", req.Target, req.Direction)
}

func (w *World) handleAdminMessage(s *session, req protocol.AdminMessageReq) {
	if res := rules.CheckChat(w.cfg.Limits, req.Text); !res.OK {
		w.reject(s, req.RequestType(), res)
		return
	}
	m := w.store.AddSystemMessage(req.Text)
	w.emit(s.id, toEveryone, protocol.TypeReceiveMessage, m)
	w.auditEvent(s.id, "ADMIN_MESSAGE", "", "")
}

func (w *World) resetWorld(actor string) {
	w.store.ResetWorld()
	w.emit(actor, toEveryone, protocol.TypeWorldReset, nil)
	w.auditEvent(actor, "RESET_WORLD", "", "")
}

func (w *World) resetChat(actor string) {
	w.store.ResetChat()
	w.emit(actor, toEveryone, protocol.TypeChatReset, nil)
	w.auditEvent(actor, "RESET_CHAT", "", "")
}

func (w *World) resetPlayers(actor string) {
	players := w.store.ResetPlayers()
	w.emit(actor, toEveryone, protocol.TypePlayersReset, players)
	w.auditEvent(actor, "RESET_PLAYERS", "", "")
}
