// Package requests carries out-of-band admin calls into the world loop.
package requests

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("world loop not available")

// Scope selects what an admin reset clears.
type Scope string

const (
	ScopeWorld   Scope = "world"
	ScopeChat    Scope = "chat"
	ScopePlayers Scope = "players"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeWorld, ScopeChat, ScopePlayers:
		return Scope(s), nil
	case "":
		return ScopeWorld, nil
	}
	return "", fmt.Errorf("unknown reset scope %q", s)
}

type StateReq[T any] struct {
	Resp chan T
}

type ResetReq struct {
	Scope Scope
	Resp  chan ResetResp
}

type ResetResp struct {
	Scope Scope
	Err   string
}

// RequestState sends a state request and waits for the loop to answer.
func RequestState[T any](ctx context.Context, ch chan<- StateReq[T]) (T, error) {
	var zero T
	if ch == nil {
		return zero, ErrUnavailable
	}
	req := StateReq[T]{Resp: make(chan T, 1)}
	select {
	case ch <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		return resp, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func RequestReset(ctx context.Context, ch chan<- ResetReq, scope Scope) error {
	if ch == nil {
		return ErrUnavailable
	}
	req := ResetReq{Scope: scope, Resp: make(chan ResetResp, 1)}
	select {
	case ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case resp := <-req.Resp:
		if resp.Err != "" {
			return errors.New(resp.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
