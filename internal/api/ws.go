package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/firdavs625/groupquiz/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans session notifications out to websocket watchers. It only pushes;
// clients that cannot keep up are dropped and fall back to polling.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

type client struct {
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

// Broadcast sends a notification to every watcher of the session.
func (h *Hub) Broadcast(sessionID, event string, data any) {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: marshal notification", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[sessionID] {
		select {
		case c.send <- b:
		default:
			slog.Warn("ws: dropping slow watcher", "session", sessionID)
			h.removeLocked(sessionID, c)
		}
	}
}

// Close sends a last notification and disconnects every watcher of the session.
func (h *Hub) Close(sessionID, event string, data any) {
	h.Broadcast(sessionID, event, data)

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[sessionID] {
		h.removeLocked(sessionID, c)
	}
}

// Shutdown disconnects every watcher.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, cs := range h.clients {
		for c := range cs {
			h.removeLocked(id, c)
		}
	}
}

// Watchers returns the number of connected watchers of a session.
func (h *Hub) Watchers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients[sessionID])
}

func (h *Hub) add(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*client]struct{})
	}
	h.clients[sessionID][c] = struct{}{}
}

// send queues a notification for one watcher. It reports false when the
// watcher is no longer registered.
func (h *Hub) send(sessionID string, c *client, event string, data any) bool {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: marshal notification", "event", event, "error", err)
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[sessionID][c]; !ok {
		return false
	}

	select {
	case c.send <- b:
		return true
	default:
		slog.Warn("ws: dropping slow watcher", "session", sessionID)
		h.removeLocked(sessionID, c)
		return false
	}
}

func (h *Hub) remove(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(sessionID, c)
}

func (h *Hub) removeLocked(sessionID string, c *client) {
	cs, ok := h.clients[sessionID]
	if !ok {
		return
	}
	if _, ok := cs[c]; !ok {
		return
	}

	delete(cs, c)
	close(c.send)
	if len(cs) == 0 {
		delete(h.clients, sessionID)
	}
}

// WatchSession upgrades to a websocket that receives the current session and
// then every change to it.
func (a *API) WatchSession(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := a.qss.GetSession(ctx, session.GetSessionRequest{SessionID: id}); err != nil {
		fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(ctx, "ws: upgrade failed", "session", id, "error", err)
		return
	}

	// The watcher is registered before the snapshot is read, so every later
	// change reaches it and a delete in between closes it.
	cl := &client{send: make(chan []byte, sendBuffer)}
	a.hub.add(id, cl)
	go writePump(conn, cl)

	ss, err := a.qss.GetSession(ctx, session.GetSessionRequest{SessionID: id})
	if err != nil {
		slog.InfoContext(ctx, "ws: session gone before snapshot", "session", id, "error", err)
		a.hub.remove(id, cl)
	} else {
		a.hub.send(id, cl, "session.snapshot", SessionUpdated{Session: ss})
	}

	readPump(conn, func() { a.hub.remove(id, cl) })
}

func writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and keeps the read deadline alive until
// the connection fails.
func readPump(conn *websocket.Conn, done func()) {
	defer func() {
		done()
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Warn("ws: read failed", "error", err)
			}
			return
		}
	}
}
