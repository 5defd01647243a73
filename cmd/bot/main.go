package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"cubeyard.io/internal/protocol"
	"cubeyard.io/internal/sim/world/feature/session/welcome"
	"cubeyard.io/internal/sim/world/state"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "username prefix")
		count     = flag.Int("n", 1, "number of bots to run")
		interval  = flag.Duration("interval", 200*time.Millisecond, "time between position updates")
		step      = flag.Float64("step", 0.5, "max per-axis move per update (keep below the server bound)")
		chatEvery = flag.Int("chat_every", 50, "send a chat line every N updates (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		b := &bot{
			url:       *url,
			username:  fmt.Sprintf("%s%d", *name, i+1),
			interval:  *interval,
			step:      *step,
			chatEvery: *chatEvery,
			rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
			log:       logger,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx); err != nil {
				logger.Printf("%s: %v", b.username, err)
			}
		}()
	}
	wg.Wait()
}

type bot struct {
	url       string
	username  string
	interval  time.Duration
	step      float64
	chatEvery int
	rng       *rand.Rand
	log       *log.Logger

	id      string
	x, y, z float64

	// Server-side corrections to our own position (admin moves, player resets).
	moved chan [3]float64
}

func (b *bot) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := b.readInit(conn); err != nil {
		return err
	}
	b.log.Printf("%s joined as %s at (%.1f, %.1f, %.1f)", b.username, b.id, b.x, b.y, b.z)

	b.moved = make(chan [3]float64, 4)
	readErr := make(chan error, 1)
	go func() { readErr <- b.drain(conn) }()

	if err := b.send(conn, protocol.TypeUpdateUsername, b.username); err != nil {
		return err
	}

	tick := time.NewTicker(b.interval)
	defer tick.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			return err
		case p := <-b.moved:
			b.x, b.y, b.z = p[0], p[1], p[2]
			continue
		case <-tick.C:
		}

		b.x += (b.rng.Float64()*2 - 1) * b.step
		b.z += (b.rng.Float64()*2 - 1) * b.step
		rot := b.rng.Float64() * 6.283
		if err := b.send(conn, protocol.TypeUpdate, protocol.UpdateReq{X: b.x, Y: b.y, Z: b.z, Rotation: &rot}); err != nil {
			return err
		}
		if b.chatEvery > 0 && n%b.chatEvery == 0 {
			text := fmt.Sprintf("update %d at (%.1f, %.1f)", n, b.x, b.z)
			if err := b.send(conn, protocol.TypeSendMessage, protocol.SendMessageReq{Text: text}); err != nil {
				return err
			}
		}
	}
}

func (b *bot) readInit(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read init: %w", err)
	}
	env, err := protocol.DecodeBase(msg)
	if err != nil || env.Type != protocol.TypeInit {
		return fmt.Errorf("expected %s frame, got %q", protocol.TypeInit, env.Type)
	}
	var init welcome.Init
	if err := json.Unmarshal(env.Data, &init); err != nil {
		return fmt.Errorf("decode init: %w", err)
	}
	b.id = init.ID
	if self, ok := init.Players[init.ID]; ok {
		b.x, b.y, b.z = self.X, self.Y, self.Z
	}
	return nil
}

// drain reads and discards broadcasts so the server never sees a slow consumer.
func (b *bot) drain(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypePlayerMoved:
			var p state.Player
			if json.Unmarshal(env.Data, &p) == nil && p.ID == b.id {
				b.correct(p)
			}
		case protocol.TypePlayersReset:
			var players map[string]state.Player
			if json.Unmarshal(env.Data, &players) == nil {
				if p, ok := players[b.id]; ok {
					b.correct(p)
				}
			}
		case protocol.TypeRequestRejected:
			b.log.Printf("%s: rejected %s", b.username, env.Data)
		case protocol.TypeReceiveMessage, protocol.TypeWorldReset:
			b.log.Printf("%s: %s %s", b.username, env.Type, env.Data)
		}
	}
}

func (b *bot) correct(p state.Player) {
	select {
	case b.moved <- [3]float64{p.X, p.Y, p.Z}:
	default:
	}
}

func (b *bot) send(conn *websocket.Conn, typ string, data any) error {
	frame, err := protocol.Encode(typ, data)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}
