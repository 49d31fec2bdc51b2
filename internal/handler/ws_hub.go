package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WSEvent is the envelope for every event pushed to clients.
type WSEvent struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Data  any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	RunID  string `json:"run_id"`
}

// WSConn wraps a WebSocket connection with its player, save slot and
// outbound queue. A connection may only follow runs of its own slot.
type WSConn struct {
	conn   *websocket.Conn
	userID string
	slotID string
	send   chan []byte
}

// Hub fans stage events out to the connections subscribed to each run.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	runs        map[string]map[*WSConn]bool // runID -> subscribers
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		runs:        make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection and all its subscriptions, then closes its queue.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.connections[c] {
		return
	}
	delete(h.connections, c)
	for runID, conns := range h.runs {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.runs, runID)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a run's channel.
func (h *Hub) Subscribe(c *WSConn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs[runID] == nil {
		h.runs[runID] = make(map[*WSConn]bool)
	}
	h.runs[runID][c] = true
}

// Unsubscribe removes a connection from a run's channel.
func (h *Hub) Unsubscribe(c *WSConn, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.runs[runID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.runs, runID)
		}
	}
}

// BroadcastStageEvent implements service.Broadcaster. Slow clients whose
// queue is full miss the event.
func (h *Hub) BroadcastStageEvent(runID string, eventType string, data any) {
	msg, err := json.Marshal(WSEvent{Type: eventType, RunID: runID, Data: data})
	if err != nil {
		log.Error().Err(err).Str("runId", runID).Str("event", eventType).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.runs[runID] {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("userId", c.userID).Str("runId", runID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// RunSubscriberCount returns the number of connections subscribed to a run.
func (h *Hub) RunSubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs[runID])
}
