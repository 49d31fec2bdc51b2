package progress

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default batching parameters.
const (
	DefaultBatchSize = 10
	DefaultIdle      = 100 * time.Millisecond
)

// Update is a queued objective progress write. Target is optional.
type Update struct {
	ObjectiveID string `json:"objective_id"`
	Current     int    `json:"current"`
	Target      *int   `json:"target,omitempty"`
}

// Batcher coalesces objective progress writes. Within one window only the
// last write per objective survives to the flush.
type Batcher struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	size    int
	idle    time.Duration
	pending map[string]Update
	order   []string
	last    time.Time
}

// NewBatcher creates a batcher flushing at size pending objectives or after
// idle has elapsed since the last enqueue.
func NewBatcher(clock clockwork.Clock, size int, idle time.Duration) *Batcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Batcher{clock: clock, size: size, idle: idle, pending: make(map[string]Update)}
}

// Enqueue records a write, replacing any pending write for the same objective.
// It returns true when the size threshold has been reached.
func (b *Batcher) Enqueue(u Update) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[u.ObjectiveID]; !ok {
		b.order = append(b.order, u.ObjectiveID)
	}
	b.pending[u.ObjectiveID] = u
	b.last = b.clock.Now()
	return len(b.pending) >= b.size
}

// Due reports whether the queue should be flushed now.
func (b *Batcher) Due() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return false
	}
	return len(b.pending) >= b.size || b.clock.Since(b.last) >= b.idle
}

// Pending returns the number of objectives with queued writes.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush empties the queue and calls apply once per objective, in first-enqueue
// order, with the last write for that objective. It returns the number applied.
func (b *Batcher) Flush(apply func(Update)) int {
	b.mu.Lock()
	updates := make([]Update, 0, len(b.order))
	for _, id := range b.order {
		updates = append(updates, b.pending[id])
	}
	b.pending = make(map[string]Update)
	b.order = nil
	b.mu.Unlock()

	for _, u := range updates {
		apply(u)
	}
	return len(updates)
}

// Drop discards all pending writes without applying them.
func (b *Batcher) Drop() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	b.pending = make(map[string]Update)
	b.order = nil
	return n
}
