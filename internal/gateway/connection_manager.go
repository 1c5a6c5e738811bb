package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageHandler receives inbound client traffic from the connection
// manager. The dispatcher implements it.
type MessageHandler interface {
	HandleMessage(conn *Connection, message []byte)
}

// ConnectionManager is the connection registry and broadcast fan-out.
// Membership is explicit: a connection belongs to whichever sessions it
// has joined (possibly several), and transport close leaves them all.
type ConnectionManager struct {
	// Connection pools organized by session id
	sessionConns map[string]map[*Connection]bool
	// All live connections, joined or not
	conns map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	broadcastCh chan BroadcastMessage
}

// Connection represents one WebSocket client.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time

	// sessions this connection has joined; guarded by Manager.mu
	sessions map[string]bool
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents an event to fan out to a session.
type BroadcastMessage struct {
	SessionID string
	Event     *ServerEvent
	// Exclude: if set, skip this connection (it got an individually
	// addressed event instead)
	Exclude *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8192,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessionConns: make(map[string]map[*Connection]bool),
		conns:        make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetHandler installs the inbound message handler. Must be called before
// the first upgrade.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection
// and returns it. The connection belongs to no session until it joins.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		sessions:    make(map[string]bool),
	}

	cm.mu.Lock()
	cm.conns[connection] = true
	cm.mu.Unlock()

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return connection, nil
}

// Join adds a connection to a session's broadcast group.
func (cm *ConnectionManager) Join(conn *Connection, sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		// Already closed; nothing to join.
		return
	}
	if cm.sessionConns[sessionID] == nil {
		cm.sessionConns[sessionID] = make(map[*Connection]bool)
	}
	cm.sessionConns[sessionID][conn] = true
	conn.sessions[sessionID] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Int("session_connections", len(cm.sessionConns[sessionID])).
		Msg("connection joined session")
}

// Leave removes a connection from a session's broadcast group. Leaving
// does not touch buzzer or game state; a recorded buzz stands.
func (cm *ConnectionManager) Leave(conn *Connection, sessionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.leaveLocked(conn, sessionID)
}

func (cm *ConnectionManager) leaveLocked(conn *Connection, sessionID string) {
	if connections, exists := cm.sessionConns[sessionID]; exists {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.sessionConns, sessionID)
		}
	}
	delete(conn.sessions, sessionID)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Msg("connection left session")
}

// unregisterConnection removes a connection entirely: all session
// memberships plus the send channel. Safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		return
	}
	delete(cm.conns, conn)
	for sessionID := range conn.sessions {
		cm.leaveLocked(conn, sessionID)
	}
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Msg("connection unregistered")
}

// BroadcastToSession queues an event for every connection in a session.
func (cm *ConnectionManager) BroadcastToSession(sessionID string, event *ServerEvent) {
	cm.broadcast(BroadcastMessage{SessionID: sessionID, Event: event})
}

// BroadcastToOthers queues an event for every connection in a session
// except origin, which received an individually addressed event instead.
func (cm *ConnectionManager) BroadcastToOthers(sessionID string, origin *Connection, event *ServerEvent) {
	cm.broadcast(BroadcastMessage{SessionID: sessionID, Event: event, Exclude: origin})
}

func (cm *ConnectionManager) broadcast(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("session_id", message.SessionID).
			Str("event", string(message.Event.Event)).
			Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers an event to a single connection, bypassing the
// broadcast queue. Used for buzz results and join snapshots.
func (cm *ConnectionManager) SendTo(conn *Connection, event *ServerEvent) {
	if conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	cm.deliver(conn, data)
}

// handleBroadcast processes one queued broadcast message.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.sessionConns[message.SessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot to avoid holding the lock during delivery.
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		if conn == message.Exclude {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once.
	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		cm.deliver(conn, data)
	}

	log.Debug().
		Str("event", string(message.Event.Event)).
		Str("session_id", message.SessionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// deliver pushes raw bytes onto a connection's send buffer. A full
// buffer means the consumer is slow or dead: the connection is evicted
// so one bad client never stalls the rest of the session.
func (cm *ConnectionManager) deliver(conn *Connection, data []byte) {
	defer func() {
		// deliver may race a concurrent close of conn.Send; a dropped
		// message to a closing connection is fine.
		if recover() != nil {
			log.Debug().Str("connection_id", conn.ID).Msg("send to closing connection")
		}
	}()

	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// Stats describes the registry for the health and stats endpoints.
type Stats struct {
	ActiveConnections  int            `json:"active_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetStats returns statistics about active connections.
func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveConnections:  len(cm.conns),
		ActiveSessions:     len(cm.sessionConns),
		SessionConnections: make(map[string]int, len(cm.sessionConns)),
	}
	for sessionID, connections := range cm.sessionConns {
		stats.SessionConnections[sessionID] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
// Transport close behaves as Leave for every joined session.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
