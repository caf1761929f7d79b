package main

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shuleapp/shule/core"
	"github.com/shuleapp/shule/core/realtime"
)

// hub tracks one websocket client per connected user and fans realtime
// envelopes out to them.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient // userID -> client
	log     core.Logger
}

type wsClient struct {
	userID string
	role   string
	conn   *websocket.Conn
	send   chan []byte
}

func newHub(log core.Logger) *hub {
	return &hub{clients: make(map[string]*wsClient), log: log}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	if old, ok := h.clients[c.userID]; ok {
		close(old.send)
		old.conn.Close()
	}
	h.clients[c.userID] = c
	h.mu.Unlock()
	h.log.Info("devserver: client connected", map[string]interface{}{"userId": c.userID, "role": c.role})
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
		close(c.send)
	}
	h.mu.Unlock()
}

// sendTo delivers an envelope to one user; silently dropped when offline or
// the client's buffer is full.
func (h *hub) sendTo(userID string, env realtime.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("devserver: marshaling envelope", err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	select {
	case c.send <- data:
	default:
		h.log.Warn("devserver: dropping frame for slow client", map[string]interface{}{"userId": userID})
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *wsClient) readPump(h *hub, onFrame func(from *wsClient, env realtime.Envelope)) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		onFrame(c, env)
	}
}
