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

	"github.com/bidhaus/bidhaus/go/internal/wire"
)

// RoomHub manages WebSocket connections and their room memberships. A single
// connection can be in any number of auction rooms at once; broadcasts fan out
// to every connection in the target room.
type RoomHub struct {
	// Connection pools organized by auction ID
	rooms map[string]map[*Conn]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   HubConfig

	broadcastCh chan broadcastMessage

	// handler receives every inbound client message
	handler InboundHandler
}

// InboundHandler processes messages received from a client connection.
type InboundHandler interface {
	HandleMessage(ctx context.Context, conn *Conn, msg wire.Message)
	HandleDisconnect(conn *Conn)
}

// Conn represents a WebSocket connection to a client.
type Conn struct {
	ID       string
	UserID   string
	Username string
	sock     *websocket.Conn
	send     chan []byte
	hub      *RoomHub

	// rooms this connection has joined, guarded by the hub mutex
	joined map[string]bool

	ConnectedAt time.Time
}

// HubConfig holds configuration for WebSocket connections.
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	AuctionID string
	Data      []byte
}

// DefaultHubConfig returns default WebSocket configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewRoomHub creates a hub. Inbound messages are dispatched to the handler.
func NewRoomHub(config HubConfig, handler InboundHandler) *RoomHub {
	return &RoomHub{
		rooms: make(map[string]map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
		handler:     handler,
	}
}

// Start begins processing broadcast messages. Blocks until ctx is cancelled.
func (h *RoomHub) Start(ctx context.Context) {
	log.Info().Msg("room hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room hub shutting down")
			return
		case msg := <-h.broadcastCh:
			h.handleBroadcast(msg)
		}
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// read/write pumps. The connection starts in no rooms; the client joins them
// with join-room messages.
func (h *RoomHub) Upgrade(w http.ResponseWriter, r *http.Request, userID, username string) (*Conn, error) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    username,
		sock:        sock,
		send:        make(chan []byte, 256),
		hub:         h,
		joined:      make(map[string]bool),
		ConnectedAt: time.Now(),
	}

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return conn, nil
}

// JoinRoom adds the connection to an auction room.
func (h *RoomHub) JoinRoom(conn *Conn, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[auctionID] == nil {
		h.rooms[auctionID] = make(map[*Conn]bool)
	}
	h.rooms[auctionID][conn] = true
	conn.joined[auctionID] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", auctionID).
		Int("room_size", len(h.rooms[auctionID])).
		Msg("connection joined room")
}

// LeaveRoom removes the connection from an auction room. Leaving a room the
// connection never joined is a no-op.
func (h *RoomHub) LeaveRoom(conn *Conn, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(conn, auctionID)
}

func (h *RoomHub) leaveRoomLocked(conn *Conn, auctionID string) {
	room, exists := h.rooms[auctionID]
	if !exists || !room[conn] {
		return
	}
	delete(room, conn)
	delete(conn.joined, auctionID)
	if len(room) == 0 {
		delete(h.rooms, auctionID)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", auctionID).
		Msg("connection left room")
}

// removeConn takes the connection out of every room and closes its send
// channel. Called exactly once, by whichever pump exits first.
func (h *RoomHub) removeConn(conn *Conn) {
	h.mu.Lock()
	if conn.joined == nil {
		h.mu.Unlock()
		return
	}
	for auctionID := range conn.joined {
		h.leaveRoomLocked(conn, auctionID)
	}
	conn.joined = nil
	close(conn.send)
	h.mu.Unlock()

	if h.handler != nil {
		h.handler.HandleDisconnect(conn)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// Broadcast sends a message to every connection in an auction room.
func (h *RoomHub) Broadcast(auctionID string, msg wire.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal broadcast message")
		return
	}
	select {
	case h.broadcastCh <- broadcastMessage{AuctionID: auctionID, Data: data}:
	default:
		log.Warn().Str("auction_id", auctionID).Msg("broadcast channel full, dropping message")
	}
}

// Send delivers a message to a single connection.
func (h *RoomHub) Send(conn *Conn, msg wire.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal message")
		return
	}
	conn.deliver(data)
}

func (h *RoomHub) handleBroadcast(msg broadcastMessage) {
	h.mu.RLock()
	room, exists := h.rooms[msg.AuctionID]
	if !exists {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Conn, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.deliver(msg.Data)
	}

	log.Debug().
		Str("auction_id", msg.AuctionID).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// RoomSize reports how many connections are in an auction room.
func (h *RoomHub) RoomSize(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// Stats returns counts of active connections per room.
func (h *RoomHub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.rooms))
	for auctionID, room := range h.rooms {
		counts[auctionID] = len(room)
	}
	return counts
}

func (c *Conn) deliver(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	// nil joined means removeConn already closed the send channel
	if c.joined == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("connection send buffer full, closing connection")
		c.sock.Close()
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.hub.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("dropping malformed client message")
			c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
			continue
		}

		if c.hub.handler != nil {
			c.hub.handler.HandleMessage(context.Background(), c, msg)
		}
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
