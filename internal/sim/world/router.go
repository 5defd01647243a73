package world

import "cubeyard.io/internal/protocol"

type audience uint8

const (
	toSelf audience = iota
	toOthers
	toEveryone
)

// emit encodes the event once and queues it for every session in the audience.
func (w *World) emit(origin string, aud audience, typ string, data any) {
	b, err := protocol.Encode(typ, data)
	if err != nil {
		w.log.Printf("encode %s: %v", typ, err)
		return
	}
	switch aud {
	case toSelf:
		if s, ok := w.sessions[origin]; ok {
			w.deliver(s, b)
		}
	case toOthers, toEveryone:
		for id, s := range w.sessions {
			if aud == toOthers && id == origin {
				continue
			}
			w.deliver(s, b)
		}
	}
}

func (w *World) sendTo(s *session, typ string, data any) {
	b, err := protocol.Encode(typ, data)
	if err != nil {
		w.log.Printf("encode %s: %v", typ, err)
		return
	}
	w.deliver(s, b)
}

// deliver never blocks. A session whose queue is full is cut off; its
// transport sees the closed queue and tears the connection down.
func (w *World) deliver(s *session, b []byte) {
	if s.closed {
		return
	}
	select {
	case s.out <- b:
	default:
		s.close()
		w.slowDrops++
		w.log.Printf("session %s: outbound queue full, dropping", s.id)
	}
}
