package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay serves local dashboards; origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans event payloads out to WebSocket clients grouped by feed.
// Clients that cannot keep up with their send buffer are dropped, so a
// stuck browser never backs up the relay.
type Hub struct {
	log *zap.Logger

	mu    sync.RWMutex
	feeds map[string]map[*client]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, feeds: make(map[string]map[*client]struct{})}
}

type client struct {
	id   string
	feed string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Handler upgrades connections onto the named feed.
func (h *Hub) Handler(feed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		c := &client{
			id:   uuid.NewString(),
			feed: feed,
			conn: conn,
			send: make(chan []byte, sendBufferSize),
		}
		h.mu.Lock()
		if h.feeds[feed] == nil {
			h.feeds[feed] = make(map[*client]struct{})
		}
		h.feeds[feed][c] = struct{}{}
		h.mu.Unlock()
		metrics.WSClients.WithLabelValues(feed).Inc()
		h.log.Info("client connected", zap.String("feed", feed), zap.String("clientId", c.id))

		go h.writePump(c)
		go h.readPump(c)
	}
}

// Broadcast queues payload for every client on the feed.
func (h *Hub) Broadcast(feed string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.feeds[feed] {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("dropping slow client", zap.String("feed", feed), zap.String("clientId", c.id))
			go h.drop(c)
		}
	}
}

// CloseAll disconnects every client; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*client
	for _, clients := range h.feeds {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.feeds = make(map[string]map[*client]struct{})
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if clients, ok := h.feeds[c.feed]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			metrics.WSClients.WithLabelValues(c.feed).Dec()
		}
	}
	h.mu.Unlock()
	c.close()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// writePump is the only goroutine writing to the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

// readPump discards client messages; its job is pong handling and
// noticing disconnects.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}
