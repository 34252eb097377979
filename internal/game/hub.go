package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
)

// conn is the part of a websocket connection the hub writes to.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Client struct {
	conn    conn
	address string
	logger  zerolog.Logger
	mu      sync.Mutex
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub fans engine events out to websocket subscribers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, 100),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug().Str("address", client.address).Int("total", total).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
				h.logger.Debug().Str("address", client.address).Int("total", len(h.clients)).Msg("client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error().Err(err).Msg("marshal broadcast")
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				go client.Send(data)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}

// Broadcast never blocks; a full queue drops the message.
func (h *Hub) Broadcast(message interface{}) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.logger.Warn().Msg("broadcast channel full, dropping message")
		return false
	}
}

func (h *Hub) Name() string {
	return "websocket"
}

func (h *Hub) Handle(_ context.Context, ev Event) error {
	h.Broadcast(WSMessage{Type: string(ev.Type), Data: ev})
	return nil
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send writes one text frame; writes to a client never interleave.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Str("address", c.address).Msg("websocket write failed")
	}
}

func (h *Hub) RegisterClient(ws *websocket.Conn, address string) *Client {
	return h.registerConn(ws, address)
}

func (h *Hub) registerConn(c conn, address string) *Client {
	client := &Client{conn: c, address: address, logger: h.logger}
	select {
	case h.register <- client:
	case <-h.quit:
		c.Close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}
