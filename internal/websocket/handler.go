package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// HandlerConfig controls per-connection transport behavior.
type HandlerConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	SendBufferSize int
	MaxMessageSize int64
}

// DefaultHandlerConfig returns the transport defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBufferSize: 256,
		MaxMessageSize: 2 << 20,
	}
}

// Handler upgrades HTTP requests and pumps frames into the dispatcher.
type Handler struct {
	dispatcher interfaces.MessageDispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewHandler creates a WebSocket handler feeding dispatcher.
func NewHandler(dispatcher interfaces.MessageDispatcher, config HandlerConfig) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		config:     config,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: rooms are opened from any page origin
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		conns: make(map[*Connection]struct{}),
	}
}

// HandleWebSocket upgrades the request. Identity is the connection itself,
// so no query parameters are required.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.config.SendBufferSize, h.config.WriteTimeout)
	log.Printf("Connection opened: conn=%s remote=%s", wsConn.GetID(), r.RemoteAddr)

	h.mu.Lock()
	h.conns[wsConn] = struct{}{}
	h.mu.Unlock()

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump. Whatever ends it, the dispatcher
// receives the disconnect so the participant leaves its room.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		_ = conn.Close()
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
		if err := h.dispatcher.Disconnect(conn); err != nil {
			log.Printf("Disconnect not delivered: conn=%s: %v", conn.GetID(), err)
		}
		log.Printf("Connection closed: conn=%s", conn.GetID())
	}()

	if h.config.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageSize)
	}

	// TECHNICAL DISCOVERY: read deadline is refreshed by every pong
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.PongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: conn=%s: %v", conn.GetID(), err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			h.sendError(conn, "only text frames are supported")
			continue
		}

		h.handleFrame(conn, data)
	}
}

// ActiveConnections returns the number of open connections.
func (h *Handler) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open connection. Each read pump then exits and
// delivers its disconnect.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(conn, "invalid message format")
		return
	}

	if err := msg.Validate(); err != nil {
		h.sendError(conn, err.Error())
		return
	}

	if err := h.dispatcher.Dispatch(conn, &msg); err != nil {
		log.Printf("Dispatch failed: conn=%s type=%s: %v", conn.GetID(), msg.Type, err)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	if h.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.writePing(time.Now().Add(h.config.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) sendError(conn *Connection, reason string) {
	msg := &types.Message{
		Type:      types.MessageTypeError,
		Error:     reason,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Failed to send error message: conn=%s: %v", conn.GetID(), err)
	}
}
