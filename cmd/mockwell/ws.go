package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/realtime"
)

// wsHub tracks the realtime connections per user and fans events out to
// them. Connections start anonymous and join the hub once the authenticate
// handshake succeeds.
type wsHub struct {
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]map[*wsConn]bool // user ID -> connections
}

// wsConn serializes writes; gorilla connections allow one writer at a time.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	userID  string
}

func newWSHub(log *logging.Logger) *wsHub {
	return &wsHub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]map[*wsConn]bool),
	}
}

func (h *wsHub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		go h.serve(&wsConn{conn: conn})
	}
}

func (h *wsHub) serve(c *wsConn) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg realtime.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.WithError(err).Debug("discarding malformed realtime frame")
			continue
		}

		switch msg.Event {
		case realtime.EventAuthenticate:
			h.authenticate(c, msg.Payload)
		default:
			// Domain events emitted by one device are relayed to the
			// user's other connections so state converges across devices.
			if c.userID != "" {
				h.relay(c, msg)
			}
		}
	}
}

func (h *wsHub) authenticate(c *wsConn, payload json.RawMessage) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.Token == "" {
		c.send(realtime.EventAuthError, map[string]string{"message": "token is required"})
		return
	}

	claims, err := parseToken(req.Token)
	if err != nil || claims.Refresh || claims.UserID == "" {
		c.send(realtime.EventAuthError, map[string]string{"message": "invalid token"})
		return
	}

	h.mu.Lock()
	c.userID = claims.UserID
	set := h.conns[claims.UserID]
	if set == nil {
		set = make(map[*wsConn]bool)
		h.conns[claims.UserID] = set
	}
	set[c] = true
	h.mu.Unlock()

	h.log.WithField("user", claims.UserID).Debug("realtime connection authenticated")
	c.send(realtime.EventAuthenticated, map[string]string{"userId": claims.UserID})
}

// push sends one event to every connection of the user.
func (h *wsHub) push(userID, event string, payload any) {
	for _, c := range h.connsFor(userID) {
		c.send(event, payload)
	}
}

// relay forwards a frame from one device to the user's other devices.
func (h *wsHub) relay(from *wsConn, msg realtime.Message) {
	for _, c := range h.connsFor(from.userID) {
		if c != from {
			c.sendRaw(msg)
		}
	}
}

func (h *wsHub) connsFor(userID string) []*wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*wsConn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		out = append(out, c)
	}
	return out
}

func (h *wsHub) drop(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.userID == "" {
		return
	}
	if set := h.conns[c.userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.userID)
		}
	}
}

// close tears down every connection, used during shutdown.
func (h *wsHub) close() {
	h.mu.Lock()
	var all []*wsConn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.conns = make(map[string]map[*wsConn]bool)
	h.mu.Unlock()

	for _, c := range all {
		c.conn.Close()
	}
}

func (c *wsConn) send(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.sendRaw(realtime.Message{Event: event, Payload: raw})
}

func (c *wsConn) sendRaw(msg realtime.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, frame)
}
