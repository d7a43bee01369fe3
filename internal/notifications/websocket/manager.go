package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	MessageTypeNotification = "notification"
	MessageTypeStatus       = "status"
	MessageTypePresence     = "presence"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is the frame pushed to clients.
type Message struct {
	Type      string    `json:"type"`
	Event     string    `json:"event,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Connection is one authenticated client socket.
type Connection struct {
	ID          string
	UserID      uuid.UUID
	Role        string
	Conn        *websocket.Conn
	Send        chan Message
	ConnectedAt time.Time

	closeOnce sync.Once
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// Manager tracks live connections and routes messages to users and roles.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewManager accepts upgrades from allowedOrigins; an empty list or "*"
// accepts any origin.
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
			},
		},
	}
}

// HandleConnection upgrades the request and starts the connection pumps.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID uuid.UUID, role string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Role:        role,
		Conn:        conn,
		Send:        make(chan Message, sendBuffer),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.deliver(connection, Message{
		Type:      MessageTypeStatus,
		Data:      map[string]any{"status": "connected", "connectionId": connection.ID},
		Timestamp: time.Now(),
	})
	m.mu.Unlock()

	m.logger.Debug("WebSocket connected",
		zap.String("connection_id", connection.ID),
		zap.String("user_id", userID.String()))

	go m.writePump(connection)
	go m.readPump(connection)

	return connection, nil
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	if _, ok := m.connections[conn.ID]; ok {
		delete(m.connections, conn.ID)
		conn.close()
	}
	m.mu.Unlock()
}

// readPump only watches for liveness and presence pings; clients do not
// push workflow data.
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.unregister(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(512)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("WebSocket read error", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		if msg.Type == MessageTypePresence {
			m.mu.RLock()
			if _, live := m.connections[conn.ID]; live {
				m.deliver(conn, Message{
					Type:      MessageTypeStatus,
					Data:      map[string]any{"status": "online"},
					Timestamp: time.Now(),
				})
			}
			m.mu.RUnlock()
		}
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver drops the message if the client is not keeping up. Callers hold
// m.mu so Send cannot be closed underneath them.
func (m *Manager) deliver(conn *Connection, msg Message) bool {
	select {
	case conn.Send <- msg:
		return true
	default:
		m.logger.Warn("WebSocket buffer full, dropping message", zap.String("connection_id", conn.ID))
		return false
	}
}

// SendToUser delivers msg to every connection of userID and returns how
// many received it.
func (m *Manager) SendToUser(userID uuid.UUID, msg Message) int {
	return m.sendWhere(msg, func(c *Connection) bool { return c.UserID == userID })
}

// SendToRole delivers msg to every connection whose user has role.
func (m *Manager) SendToRole(role string, msg Message) int {
	return m.sendWhere(msg, func(c *Connection) bool { return c.Role == role })
}

func (m *Manager) sendWhere(msg Message, match func(*Connection) bool) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sent := 0
	for _, conn := range m.connections {
		if match(conn) && m.deliver(conn, msg) {
			sent++
		}
	}
	return sent
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.connections {
		conn.close()
		delete(m.connections, id)
	}
}
