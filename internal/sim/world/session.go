package world

import (
	"cubeyard.io/internal/protocol"
	adminauthpkg "cubeyard.io/internal/sim/world/feature/admin/auth"
	welcomepkg "cubeyard.io/internal/sim/world/feature/session/welcome"
)

type session struct {
	id   string
	out  chan []byte
	auth adminauthpkg.Authority

	// closed is set once out has been closed; nothing is delivered after that.
	closed bool
}

func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.out)
}

func (w *World) handleJoin(req JoinRequest) {
	id := w.cfg.NewSessionID()
	p := w.store.CreatePlayer(id)
	s := &session{id: id, out: req.Out}
	w.sessions[id] = s

	w.sendTo(s, protocol.TypeInit, welcomepkg.Build(id, w.store.Snapshot()))
	w.emit(id, toOthers, protocol.TypePlayerJoined, p)

	if req.Resp != nil {
		req.Resp <- JoinResponse{SessionID: id}
	}
}

func (w *World) handleLeave(id string) {
	s, ok := w.sessions[id]
	if !ok {
		return
	}
	delete(w.sessions, id)
	s.close()
	if w.store.RemovePlayer(id) {
		w.emit(id, toEveryone, protocol.TypePlayerLeft, id)
	}
}

func (w *World) closeAll() {
	for id, s := range w.sessions {
		s.close()
		w.store.RemovePlayer(id)
		delete(w.sessions, id)
	}
}
