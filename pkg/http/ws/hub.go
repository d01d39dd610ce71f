package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub manages WebSocket connections and fans session events out to the
// connections subscribed to a session token.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection         // connection_id -> connection
	sessions    map[string]map[uuid.UUID]struct{} // session_token -> connection_ids
	logger      zerolog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID]*Connection),
		sessions:    make(map[string]map[uuid.UUID]struct{}),
		logger:      logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Register adds a connection.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[conn.ID] = conn
	h.logger.Debug().Str("connection_id", conn.ID.String()).Msg("connection registered")
}

// Unregister closes a connection and drops its subscriptions.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, exists := h.connections[connID]; exists {
		conn.Close()
		delete(h.connections, connID)
		h.logger.Debug().Str("connection_id", connID.String()).Msg("connection unregistered")
	}

	for token, subs := range h.sessions {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.sessions, token)
		}
	}
}

// Subscribe associates a connection with a session token.
func (h *Hub) Subscribe(token string, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[token]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		h.sessions[token] = subs
	}
	subs[connID] = struct{}{}
}

// Unsubscribe removes a connection from a session token.
func (h *Hub) Unsubscribe(token string, connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.sessions[token]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.sessions, token)
		}
	}
}

// Subscribers returns how many connections follow a session token.
func (h *Hub) Subscribers(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[token])
}

// BroadcastToSession sends a message to every connection subscribed to token.
func (h *Hub) BroadcastToSession(token string, msg Message) error {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.sessions[token]))
	for connID := range h.sessions[token] {
		if conn, ok := h.connections[connID]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil && firstErr == nil {
			firstErr = err
			h.logger.Warn().Err(err).Str("connection_id", conn.ID.String()).Msg("broadcast_send_failed")
		}
	}
	return firstErr
}

// SendTo delivers a message to a specific connection.
func (h *Hub) SendTo(connID uuid.UUID, msg Message) error {
	h.mu.RLock()
	conn, exists := h.connections[connID]
	h.mu.RUnlock()

	if !exists {
		return ErrConnectionNotFound
	}
	return conn.Send(msg)
}

// Connection represents a WebSocket connection with send queue.
type Connection struct {
	ID     uuid.UUID
	conn   *websocket.Conn
	sendCh chan Message
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps a WebSocket connection.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	id := uuid.New()
	return &Connection{
		ID:     id,
		conn:   conn,
		sendCh: make(chan Message, 256),
		logger: logger.With().Str("connection_id", id.String()).Logger(),
	}
}

// Send queues a message for delivery.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts down the connection.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.sendCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// WritePump sends messages from the send queue and keeps the peer alive
// with pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump receives messages and calls the handler until the peer goes away.
func (c *Connection) ReadPump(handler func(Message) error) {
	defer c.conn.Close()

	c.conn.SetReadLimit(64 << 10)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			break
		}

		if err := handler(msg); err != nil {
			c.logger.Warn().Err(err).Msg("message handler error")
		}
	}
}

var (
	ErrConnectionNotFound = &Error{Code: "connection_not_found", Message: "Connection not found"}
	ErrConnectionClosed   = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull      = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
