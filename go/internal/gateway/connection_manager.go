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
	"github.com/mcdev12/hotpotato/go/internal/events"
	"github.com/rs/zerolog/log"
)

// CommandHandler executes client commands
type CommandHandler interface {
	HandleCommand(c *Connection, cmd Command)
}

// ConnectionManager manages WebSocket connections per session
type ConnectionManager struct {
	// Connection pools organized by session key
	sessions map[string]map[*Connection]bool
	mu       sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
	commands    CommandHandler
}

// Connection represents a WebSocket connection to a participant
type Connection struct {
	ID            string
	ParticipantID string
	SessionKey    string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	ConnectedAt time.Time

	// closed is guarded by Manager.mu
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	SessionKey    string
	Message       *Message
	ParticipantID string // Optional: if set, only send to this participant
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessions: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// SetCommandHandler installs the handler for client commands.
func (cm *ConnectionManager) SetCommandHandler(h CommandHandler) {
	cm.commands = h
}

// Start processes broadcast messages until ctx is cancelled
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

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, participantID, sessionKey string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		SessionKey:    sessionKey,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		Manager:       cm,
		ConnectedAt:   time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", participantID).
		Str("session", sessionKey).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.sessions[conn.SessionKey] == nil {
		cm.sessions[conn.SessionKey] = make(map[*Connection]bool)
	}
	cm.sessions[conn.SessionKey][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session", conn.SessionKey).
		Int("total_connections", len(cm.sessions[conn.SessionKey])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.sessions[conn.SessionKey]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	conn.closed = true
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.sessions, conn.SessionKey)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("participant_id", conn.ParticipantID).
		Str("session", conn.SessionKey).
		Msg("connection unregistered")
}

// BroadcastToSession queues a message for every connection of a session
func (cm *ConnectionManager) BroadcastToSession(sessionKey string, msg *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionKey: sessionKey, Message: msg}:
	default:
		log.Warn().Str("session", sessionKey).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToParticipant queues a message for the connections of one participant
func (cm *ConnectionManager) BroadcastToParticipant(sessionKey, participantID string, msg *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionKey: sessionKey, Message: msg, ParticipantID: participantID}:
	default:
		log.Warn().
			Str("session", sessionKey).
			Str("participant_id", participantID).
			Msg("broadcast channel full, dropping participant message")
	}
}

// Publish broadcasts a domain event to the event's session. It lets the
// connection manager stand in for the event bus on a single instance.
func (cm *ConnectionManager) Publish(_ context.Context, ev events.Event) error {
	cm.BroadcastToSession(ev.SessionKey, eventMessage(ev))
	return nil
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	for conn := range cm.sessions[message.SessionKey] {
		if message.ParticipantID != "" && conn.ParticipantID != message.ParticipantID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targets {
		cm.deliver(conn, data)
	}

	log.Debug().
		Str("type", string(message.Message.Type)).
		Str("session", message.SessionKey).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// SendTo sends a message to a single connection
func (cm *ConnectionManager) SendTo(conn *Connection, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	cm.deliver(conn, data)
}

// deliver queues data on the connection, closing connections that cannot keep up
func (cm *ConnectionManager) deliver(conn *Connection, data []byte) {
	cm.mu.RLock()
	if conn.closed {
		cm.mu.RUnlock()
		return
	}
	var queued bool
	select {
	case conn.Send <- data:
		queued = true
	default:
	}
	cm.mu.RUnlock()

	if !queued {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("participant_id", conn.ParticipantID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// Connections returns a snapshot of the connections of a session
func (cm *ConnectionManager) Connections(sessionKey string) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]*Connection, 0, len(cm.sessions[sessionKey]))
	for conn := range cm.sessions[sessionKey] {
		out = append(out, conn)
	}
	return out
}

// ConnectionStats summarises active connections
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessions),
		SessionConnections: make(map[string]int, len(cm.sessions)),
	}
	for key, connections := range cm.sessions {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[key] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
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
		}
	}
}

// readPump reads client commands until the connection closes
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
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

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes a command and hands it off without blocking the read loop
func (c *Connection) handleClientMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Action == "" {
		log.Debug().
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		if msg, err := newMessage(c.SessionKey, MessageTypeError, ErrorData{
			Reason:  "bad_request",
			Message: "expected {\"action\": ..., \"request_id\": ...}",
		}); err == nil {
			c.Manager.SendTo(c, msg)
		}
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("participant_id", c.ParticipantID).
		Str("action", cmd.Action).
		Str("request_id", cmd.RequestID).
		Msg("received client command")

	if c.Manager.commands == nil {
		return
	}
	go c.Manager.commands.HandleCommand(c, cmd)
}
