// Package docstore keeps whole JSON documents by key. It backs the world
// store's write-through gateway.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("docstore: closed")

// Backend stores raw document bytes.
type Backend interface {
	Get(key string) (body []byte, found bool, err error)
	Put(key string, body []byte) error
	Close() error
}

// Gateway adapts a Backend to the world store's Load/Save port.
type Gateway struct {
	b Backend
}

func NewGateway(b Backend) *Gateway { return &Gateway{b: b} }

func (g *Gateway) Load(key string, dst any) (bool, error) {
	body, found, err := g.b.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (g *Gateway) Save(key string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return g.b.Put(key, body)
}

// Memory is a process-local backend for tests and throwaway servers.
type Memory struct {
	mu     sync.Mutex
	docs   map[string][]byte
	closed bool
}

func NewMemory() *Memory { return &Memory{docs: map[string][]byte{}} }

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	b, ok := m.docs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *Memory) Put(key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[key] = append([]byte(nil), body...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
