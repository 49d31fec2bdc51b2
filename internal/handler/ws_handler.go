package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/auth"
	"github.com/freeeve/stagecraft/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second // Must be less than pongWait
	maxMsgSize   = 4096
	sendBufSize  = 256
	lookupWait   = 5 * time.Second
	eventConnect = "connected"
	eventSubOK   = "subscribed"
	eventSubDeny = "subscribe_rejected"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS handled by middleware
	},
}

// RunLookup finds a stage run so a subscription can be checked against the
// connection's save slot.
type RunLookup interface {
	GetStage(ctx context.Context, runID string) (*service.StageView, error)
}

// WSHandler streams stage events to clients over WebSocket.
type WSHandler struct {
	hub    *Hub
	jwtMgr *auth.JWTManager
	runs   RunLookup
}

// NewWSHandler creates a WSHandler.
func NewWSHandler(hub *Hub, jwtMgr *auth.JWTManager, runs RunLookup) *WSHandler {
	return &WSHandler{hub: hub, jwtMgr: jwtMgr, runs: runs}
}

// ServeWS handles GET /api/v1/ws and upgrades to a WebSocket.
// Auth is via the ?token= query parameter since browsers cannot set headers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		writeError(w, http.StatusUnauthorized, "missing token parameter")
		return
	}
	claims, err := h.jwtMgr.ValidateToken(tokenStr)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &WSConn{
		conn:   conn,
		userID: claims.PlayerID,
		slotID: claims.SlotID,
		send:   make(chan []byte, sendBufSize),
	}
	h.hub.Register(client)
	h.reply(client, WSEvent{Type: eventConnect, Data: map[string]any{"slot_id": claims.SlotID}})

	go h.writeLoop(client)
	go h.readLoop(client)

	log.Info().Str("playerId", claims.PlayerID).Str("slotId", claims.SlotID).
		Int("total", h.hub.ConnectionCount()).Msg("WebSocket client connected")
}

// handleMessage applies one client message. Subscriptions to runs outside
// the connection's slot are refused the same way as unknown runs.
func (h *WSHandler) handleMessage(ctx context.Context, c *WSConn, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.RunID == "" {
		return
	}

	switch msg.Action {
	case "subscribe":
		if !h.ownsRun(ctx, c, msg.RunID) {
			log.Debug().Str("playerId", c.userID).Str("runId", msg.RunID).Msg("WebSocket subscription refused")
			h.reply(c, WSEvent{Type: eventSubDeny, RunID: msg.RunID, Data: map[string]any{"error": "stage run not found"}})
			return
		}
		h.hub.Subscribe(c, msg.RunID)
		h.reply(c, WSEvent{Type: eventSubOK, RunID: msg.RunID, Data: map[string]any{}})
	case "unsubscribe":
		h.hub.Unsubscribe(c, msg.RunID)
	}
}

func (h *WSHandler) ownsRun(ctx context.Context, c *WSConn, runID string) bool {
	ctx, cancel := context.WithTimeout(ctx, lookupWait)
	defer cancel()
	view, err := h.runs.GetStage(ctx, runID)
	return err == nil && view.SlotID == c.slotID
}

// reply queues a message for one connection, dropping it if the queue is full.
func (h *WSHandler) reply(c *WSConn, ev WSEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal WebSocket reply")
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("playerId", c.userID).Str("type", ev.Type).Msg("WebSocket send queue full, dropping reply")
	}
}

func (h *WSHandler) readLoop(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Str("playerId", c.userID).Msg("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("playerId", c.userID).Msg("WebSocket unexpected close")
			}
			return
		}
		h.handleMessage(context.Background(), c, raw)
	}
}

// writeLoop sends queued events, batching whatever is already waiting into
// one frame, and keeps the connection alive with pings.
func (h *WSHandler) writeLoop(c *WSConn) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case first, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeBatch(c, first); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch writes first and every message already queued behind it as one
// newline-separated text frame.
func writeBatch(c *WSConn, first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		w.Write([]byte("\n"))
		w.Write(<-c.send)
	}
	return w.Close()
}
