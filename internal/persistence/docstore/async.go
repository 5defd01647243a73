package docstore

import (
	"log"
	"sync"
	"sync/atomic"
)

// Async is a write-behind wrapper. Put only records the latest body per key;
// a single writer goroutine flushes to the inner backend. Get sees pending
// bodies first, so reads after writes stay exact.
type Async struct {
	inner Backend
	log   *log.Logger

	mu      sync.Mutex
	pending map[string]pendingDoc
	gen     uint64
	closed  bool

	kick chan struct{}
	done chan struct{}

	failures atomic.Uint64
}

func NewAsync(inner Backend, logger *log.Logger) *Async {
	if logger == nil {
		logger = log.New(log.Writer(), "[store] ", log.LstdFlags|log.Lmicroseconds)
	}
	a := &Async{
		inner:   inner,
		log:     logger,
		pending: map[string]pendingDoc{},
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Async) Get(key string) ([]byte, bool, error) {
	a.mu.Lock()
	if p, ok := a.pending[key]; ok {
		a.mu.Unlock()
		return append([]byte(nil), p.body...), true, nil
	}
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}
	return a.inner.Get(key)
}

func (a *Async) Put(key string, body []byte) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.gen++
	a.pending[key] = pendingDoc{body: append([]byte{}, body...), gen: a.gen}
	// Kick under the lock so Close cannot close the channel in between.
	select {
	case a.kick <- struct{}{}:
	default:
	}
	a.mu.Unlock()
	return nil
}

// Failures counts flushes the inner backend refused.
func (a *Async) Failures() uint64 { return a.failures.Load() }

// Close flushes what is pending and closes the inner backend.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.kick)
	a.mu.Unlock()
	<-a.done
	return a.inner.Close()
}

func (a *Async) loop() {
	defer close(a.done)
	for range a.kick {
		a.flush()
	}
	a.flush()
}

type pendingDoc struct {
	body []byte
	gen  uint64
}

func (a *Async) flush() {
	for {
		a.mu.Lock()
		var (
			key   string
			doc   pendingDoc
			found bool
		)
		for k, p := range a.pending {
			key, doc, found = k, p, true
			break
		}
		a.mu.Unlock()
		if !found {
			return
		}
		if err := a.inner.Put(key, doc.body); err != nil {
			a.failures.Add(1)
			a.log.Printf("async put %s: %v", key, err)
		}
		a.mu.Lock()
		// A newer body may have arrived while writing; keep it pending.
		if cur, ok := a.pending[key]; ok && cur.gen == doc.gen {
			delete(a.pending, key)
		}
		a.mu.Unlock()
	}
}
