package ws

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skysweep/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // room for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and registers connections with the hub.
type Handler struct {
	hub    *Hub
	logger *zap.SugaredLogger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *Hub, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{hub: hub, logger: logger.Named("ws")}
}

// ServeHTTP handles WebSocket upgrade requests on /ws/detections.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("upgrade failed", "error", err)
		return
	}

	h.logger.Infow("new connection", "remote", r.RemoteAddr)
	h.hub.Register(conn)
	go h.readPump(conn)
}

// readPump drains client messages to detect disconnection and keeps the
// connection alive with pings.
func (h *Handler) readPump(conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512) // clients are not expected to send much
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("read error", "error", err)
			}
			break
		}
	}
}

// ResultBroadcaster subscribes to a pipeline event bus and forwards each
// result to the hub. Annotated frames are JPEG encoded only when at least
// one client is connected.
type ResultBroadcaster struct {
	hub *Hub
}

// NewResultBroadcaster creates a broadcaster for the hub.
func NewResultBroadcaster(hub *Hub) *ResultBroadcaster {
	return &ResultBroadcaster{hub: hub}
}

// OnFrameResult implements pipeline.ResultHandler.
func (b *ResultBroadcaster) OnFrameResult(result *pipeline.FrameResult) {
	if !b.hub.HasClients() {
		return
	}
	msg := NewDetectionMessage(result)
	if result.Annotated != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, result.Annotated, &jpeg.Options{Quality: 80}); err == nil {
			msg.SetFrame(base64.StdEncoding.EncodeToString(buf.Bytes()))
		}
	}
	b.hub.BroadcastDetections(msg)
}

var _ pipeline.ResultHandler = (*ResultBroadcaster)(nil)
