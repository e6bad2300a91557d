package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now (adjust for production)
	},
}

// WebSocket event types pushed to clients.
const (
	WSNotificationInsert = "notification.insert"
	WSNotificationUpdate = "notification.update"
	WSNotificationDelete = "notification.delete"
	WSConnectionState    = "connection"
)

type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is one upgraded websocket connection for one user.
type Client struct {
	ID     uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	UserID uuid.UUID

	// dispose tears down the sync client feeding this connection.
	dispose func()
}

// WebSocketManager tracks connected clients per user.
type WebSocketManager struct {
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	userClients map[uuid.UUID]map[*Client]bool
	mu          sync.RWMutex
	logger      *zap.Logger
}

func NewWebSocketManager(logger *zap.Logger) *WebSocketManager {
	return &WebSocketManager{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		userClients: make(map[uuid.UUID]map[*Client]bool),
		logger:      logger,
	}
}

func (m *WebSocketManager) Run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client] = true
			if _, ok := m.userClients[client.UserID]; !ok {
				m.userClients[client.UserID] = make(map[*Client]bool)
			}
			m.userClients[client.UserID][client] = true
			m.mu.Unlock()
			m.logger.Debug("ws client registered", zap.String("userID", client.UserID.String()))

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				if userMap, ok := m.userClients[client.UserID]; ok {
					delete(userMap, client)
					if len(userMap) == 0 {
						delete(m.userClients, client.UserID)
					}
				}
				// Dispose waits out the sync goroutine before the send
				// channel closes, so no callback writes to a closed channel.
				if client.dispose != nil {
					client.dispose()
				}
				close(client.Send)
				m.logger.Debug("ws client unregistered", zap.String("userID", client.UserID.String()))
			}
			m.mu.Unlock()
		}
	}
}

// ConnectedUsers returns how many distinct users hold at least one socket.
func (m *WebSocketManager) ConnectedUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.userClients)
}

// Deliver marshals an event into a single client's send buffer. A full
// buffer drops the frame; the client's next resync repairs its view.
func (c *Client) Deliver(eventType string, payload interface{}, logger *zap.Logger) {
	msg, err := json.Marshal(WSEvent{Type: eventType, Payload: payload})
	if err != nil {
		logger.Error("failed to marshal ws event", zap.Error(err))
		return
	}
	select {
	case c.Send <- msg:
	default:
	}
}

func (c *Client) ReadPump(manager *WebSocketManager) {
	defer func() {
		manager.unregister <- c
		c.Conn.Close()
	}()

	// Clients only receive; reads exist to observe close frames.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()

	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		w.Write(message)

		// Drain any queued events into the same frame, one per line.
		n := len(c.Send)
		for i := 0; i < n; i++ {
			w.Write([]byte{'\n'})
			w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}
