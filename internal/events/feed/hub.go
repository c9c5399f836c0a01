// Package feed pushes marketplace events and wallet session changes to
// browser clients over websockets.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/events"
	"carbon-x/marketplace/marketplace-backend/internal/wallet"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	readLimit  = 512
	sendBuffer = 64
)

// Message types
const (
	TypeSession     = "session"
	TypeTransaction = "transaction"
	TypeSubscribe   = "subscribe"
	TypeStatus      = "status"
)

// Message is the envelope written to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage is what clients may send. A subscribe message with credit
// ids narrows transaction messages to those credits; an empty list restores
// the full stream.
type ClientMessage struct {
	Type      string   `json:"type"`
	CreditIDs []uint64 `json:"credit_ids,omitempty"`
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Message // written only by Hub.run
	ConnectedAt time.Time
	RemoteAddr  string

	mu      sync.Mutex
	credits map[uint64]bool
}

func (c *Connection) wants(m Message) bool {
	if m.Type != TypeTransaction {
		return true
	}
	e, ok := m.Data.(events.Event)
	if !ok {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.credits) == 0 || c.credits[e.CreditID]
}

type directMessage struct {
	conn *Connection
	msg  Message
}

// Hub manages the broadcast of messages to connections
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	connections map[*Connection]bool
	broadcast   chan Message
	direct      chan directMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
	stopOnce    sync.Once

	mu    sync.RWMutex
	count int
}

var _ events.Publisher = (*Hub)(nil)

// NewHub starts a hub.
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		logger:      logger,
		connections: make(map[*Connection]bool),
		broadcast:   make(chan Message, 256),
		direct:      make(chan directMessage),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	go h.run()
	return h
}

// RegisterRoutes registers GET /events/ws.
func (h *Hub) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events/ws", func(c *gin.Context) {
		if _, err := h.HandleConnection(c.Writer, c.Request); err != nil {
			h.logger.Error("Feed upgrade failed", zap.Error(err))
		}
	})
}

// HandleConnection upgrades the request and registers the client.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Conn:        ws,
		Send:        make(chan Message, sendBuffer),
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
		credits:     make(map[uint64]bool),
	}

	select {
	case h.register <- conn:
	case <-h.stop:
		ws.Close()
		return nil, fmt.Errorf("feed is closed")
	}

	go h.readPump(conn)
	go h.writePump(conn)
	return conn, nil
}

func (h *Hub) readPump(conn *Connection) {
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.stop:
		}
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(readLimit)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Feed connection closed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}
		h.handleMessage(conn, msg)
	}
}

func (h *Hub) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(conn *Connection, msg ClientMessage) {
	if msg.Type != TypeSubscribe {
		h.logger.Debug("Unknown feed message", zap.String("type", msg.Type))
		return
	}

	conn.mu.Lock()
	conn.credits = make(map[uint64]bool, len(msg.CreditIDs))
	for _, id := range msg.CreditIDs {
		conn.credits[id] = true
	}
	conn.mu.Unlock()

	reply := Message{
		Type:      TypeStatus,
		Data:      map[string]interface{}{"status": "subscribed", "connection_id": conn.ID, "credit_ids": msg.CreditIDs},
		Timestamp: time.Now(),
	}
	select {
	case h.direct <- directMessage{conn: conn, msg: reply}:
	case <-h.stop:
	}
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true
			h.setCount(len(h.connections))
			h.logger.Debug("Feed connection registered", zap.String("connection_id", conn.ID))

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				h.setCount(len(h.connections))
				h.logger.Debug("Feed connection unregistered", zap.String("connection_id", conn.ID))
			}

		case d := <-h.direct:
			if h.connections[d.conn] {
				select {
				case d.conn.Send <- d.msg:
				default:
				}
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				if !conn.wants(message) {
					continue
				}
				select {
				case conn.Send <- message:
				default:
					close(conn.Send)
					delete(h.connections, conn)
					h.setCount(len(h.connections))
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				close(conn.Send)
				delete(h.connections, conn)
			}
			h.setCount(0)
			return
		}
	}
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// ConnectionCount returns the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) enqueue(m Message) error {
	select {
	case <-h.stop:
		return fmt.Errorf("feed is closed")
	default:
	}

	select {
	case h.broadcast <- m:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// Publish broadcasts a marketplace event.
func (h *Hub) Publish(ctx context.Context, e events.Event) error {
	return h.enqueue(Message{Type: TypeTransaction, Data: e, Timestamp: time.Now()})
}

// WatchWallet broadcasts every wallet session change until ctx ends.
func (h *Hub) WatchWallet(ctx context.Context, w *wallet.Wallet) {
	updates, cancel := w.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-updates:
				if !ok {
					return
				}
				if err := h.enqueue(Message{Type: TypeSession, Data: s, Timestamp: time.Now()}); err != nil {
					h.logger.Warn("Dropped session update", zap.Error(err))
				}
			}
		}
	}()
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}
