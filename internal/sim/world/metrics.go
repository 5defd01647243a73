package world

type WorldMetrics struct {
	Players  int `json:"players"`
	Sessions int `json:"sessions"`
	Blocks   int `json:"blocks"`
	Messages int `json:"messages"`

	Processed       uint64 `json:"processed_total"`
	Rejected        uint64 `json:"rejected_total"`
	SlowDrops       uint64 `json:"slow_drops_total"`
	PersistFailures uint64 `json:"persist_failures_total"`

	QueueDepths QueueDepths `json:"queue_depths"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
}

func (w *World) publishMetrics() {
	c := w.store.Counts()
	w.metrics.Store(WorldMetrics{
		Players:         c.Players,
		Sessions:        len(w.sessions),
		Blocks:          c.Blocks,
		Messages:        c.Messages,
		Processed:       w.processed,
		Rejected:        w.rejected,
		SlowDrops:       w.slowDrops,
		PersistFailures: c.PersistFailures,
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
		},
	})
}

// Metrics returns the figures published after the last processed item.
// It is safe to call from any goroutine.
func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	m, _ := w.metrics.Load().(WorldMetrics)
	return m
}
