package api

import (
	"net/http"
	"sync"
	"time"

	"greenhouse/internal/mqtt"
	"greenhouse/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LiveTopic is the bus filter relayed to websocket clients
const LiveTopic = "inputs/+/measurements"

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type liveClient struct {
	ws   *websocket.Conn
	send chan []byte
}

// LiveHub relays measurement messages from the bus to every connected
// websocket client. Slow clients drop messages instead of blocking the bus.
type LiveHub struct {
	bus mqtt.Bus
	log *zap.Logger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
}

func NewLiveHub(bus mqtt.Bus, log *zap.Logger) *LiveHub {
	return &LiveHub{
		bus:     bus,
		log:     log,
		clients: make(map[*liveClient]struct{}),
	}
}

// Start subscribes to the measurement topics
func (h *LiveHub) Start() error {
	return h.bus.Subscribe(LiveTopic, h.broadcast)
}

// Stop unsubscribes and disconnects every client
func (h *LiveHub) Stop() error {
	err := h.bus.Unsubscribe(LiveTopic)
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return err
}

// Clients reports how many websocket clients are connected
func (h *LiveHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LiveHub) broadcast(_ string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Debug("live client too slow, dropping message")
		}
	}
}

func (h *LiveHub) add(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *LiveHub) remove(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *LiveHub) serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &liveClient{ws: ws, send: make(chan []byte, 16)}
	h.add(client)

	go h.writePump(client)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *LiveHub) writePump(c *liveClient) {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("live write failed", zap.Error(err))
			h.remove(c)
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func RegisterLiveRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, hub *LiveHub) {
	r.GET("/ws/measurements", middleware.RequireAuth(), hub.serve)
}
