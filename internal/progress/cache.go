// Package progress holds the two stage-scoped performance helpers: a
// turn-scoped result cache and a coalescing queue for objective progress writes.
package progress

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
)

type entry[T any] struct {
	value T
	at    time.Time
	turn  int
}

// Cache is a turn-scoped, TTL-bounded result cache. An entry is only returned
// for the turn it was stored in; the TTL is a secondary bound within that turn.
type Cache[T any] struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ttl     time.Duration
	entries map[string]entry[T]
	hits    int
	misses  int
}

// NewCache creates a cache. A nil clock uses wall time; ttl <= 0 disables
// expiry, leaving the turn boundary as the only invalidation.
func NewCache[T any](clock clockwork.Clock, ttl time.Duration) *Cache[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[T]{clock: clock, ttl: ttl, entries: make(map[string]entry[T])}
}

// Get returns the value stored under key for the given turn.
func (c *Cache[T]) Get(key string, turn int) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if e.turn != turn || (c.ttl > 0 && c.clock.Since(e.at) > c.ttl) {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key for the given turn.
func (c *Cache[T]) Set(key string, turn int, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, at: c.clock.Now(), turn: turn}
	c.mu.Unlock()
}

// AdvanceTurn drops every entry not stored in the given turn.
func (c *Cache[T]) AdvanceTurn(turn int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.turn != turn {
			delete(c.entries, k)
		}
	}
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Reset clears the cache and its counters.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.hits, c.misses = 0, 0
	c.mu.Unlock()
}

// Len returns the number of stored entries, valid or not.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *Cache[T]) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// VerdictKey builds the cache key for a victory or defeat check.
func VerdictKey(kind string, turn int, phase, activePlayer string) string {
	return kind + ":" + strconv.Itoa(turn) + ":" + phase + ":" + activePlayer
}

// PerformanceKey builds the reward cache key for a stage and a performance
// record. The record is hashed through its JSON encoding.
func PerformanceKey(stageID string, perf any) (string, error) {
	data, err := json.Marshal(perf)
	if err != nil {
		return "", fmt.Errorf("hash performance: %w", err)
	}
	return stageID + ":" + strconv.FormatUint(xxhash.Sum64(data), 16), nil
}
