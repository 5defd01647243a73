package ws

import (
	"context"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cubeyard.io/internal/protocol"
	"cubeyard.io/internal/sim/world"
)

type Options struct {
	OutQueue int
	// Inbound frames per second per connection; 0 disables the limiter.
	RatePerSec float64
	Burst      int

	ReadLimit    int64
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func (o Options) withDefaults() Options {
	if o.OutQueue < 2 {
		o.OutQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.RatePerSec > 0 && o.Burst <= 0 {
		o.Burst = int(o.RatePerSec) + 1
	}
	return o
}

type Stats struct {
	Connections   int64  `json:"connections"`
	DecodeRejects uint64 `json:"decode_rejects_total"`
	RateLimited   uint64 `json:"rate_limited_total"`
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader

	conns         atomic.Int64
	decodeRejects atomic.Uint64
	rateLimited   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections:   s.conns.Load(),
		DecodeRejects: s.decodeRejects.Load(),
		RateLimited:   s.rateLimited.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, s.opts.OutQueue)
		sessionID, err := s.world.Connect(ctx, out)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "world unavailable"),
				time.Now().Add(time.Second))
			return
		}
		s.conns.Add(1)
		defer s.conns.Add(-1)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writeLoop(conn, out)
		}()

		s.readLoop(ctx, conn, sessionID)

		// The world closes out once the session is gone, which ends the writer.
		cancel()
		s.world.Disconnect(sessionID)
		<-writerDone
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	var limiter *rate.Limiter
	if s.opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.RatePerSec), s.opts.Burst)
	}

	conn.SetReadLimit(s.opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Printf("session %s: read: %v", sessionID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if limiter != nil && !limiter.Allow() {
			s.rateLimited.Add(1)
			continue
		}
		req, err := protocol.DecodeRequest(msg)
		if err != nil {
			s.decodeRejects.Add(1)
			continue
		}
		if err := s.world.Submit(ctx, sessionID, req); err != nil {
			return
		}
	}
}

// writeLoop ends when the world closes out, which it always does after
// Disconnect, or when a write fails.
func (s *Server) writeLoop(conn *websocket.Conn, out <-chan []byte) {
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case b, ok := <-out:
			if !ok {
				// Session closed by the world (slow consumer, shutdown or leave).
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
