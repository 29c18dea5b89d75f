// Package ws streams detection results to WebSocket clients.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Hub manages WebSocket connections for real-time detection streaming.
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	logger  *zap.SugaredLogger
}

// NewHub creates a new hub.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger.Named("ws"),
	}
}

// Register adds a connection.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Infow("client registered", "total", total)
}

// Unregister removes a connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Infow("client unregistered", "total", len(h.clients))
	}
	h.mu.Unlock()
}

// HasClients reports whether anyone is connected. Callers use this to skip
// frame encoding when nobody is watching.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client. Clients that fail a write are
// dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warnw("write failed, dropping client", "error", err)
			h.Unregister(conn)
			conn.Close()
		}
	}
}

// BroadcastDetections marshals and broadcasts a detection message.
func (h *Hub) BroadcastDetections(msg *DetectionMessage) {
	if !h.HasClients() {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("marshal detection message", "error", err)
		return
	}
	h.Broadcast(data)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
