package server

import (
	"context"
	"net/http"
	"sync"

	"resonate/events"
	"resonate/logger"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusHub fans ingestion status events out to websocket clients. Events
// arrive over the Redis bus, so every server instance sees transitions
// committed by any worker.
type StatusHub struct {
	bus *events.Bus

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewStatusHub creates a hub reading from bus.
func NewStatusHub(bus *events.Bus) *StatusHub {
	return &StatusHub{
		bus:     bus,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run consumes the event bus until ctx is cancelled, broadcasting every
// event to all connected clients.
func (h *StatusHub) Run(ctx context.Context) {
	for ev := range h.bus.Subscribe(ctx) {
		h.broadcast(ev)
	}
}

func (h *StatusHub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(ev); err != nil {
			logger.Warn("Websocket write failed, dropping client", logger.ErrorField(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *StatusHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *StatusHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ServeWS upgrades the connection and streams status events to it.
// GET /api/ws/assets
func (h *StatusHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", logger.ErrorField(err))
		return
	}

	h.register(conn)
	logger.Debug("Websocket client connected", logger.String("remote", conn.RemoteAddr().String()))

	// The read loop only exists to notice the peer going away; clients do
	// not send anything.
	go func() {
		defer h.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
