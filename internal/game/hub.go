package game

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

const clientSendBuffer = 64

// Client is one websocket subscriber.
type Client struct {
	conn   *websocket.Conn
	userID string
	out    chan []byte
	once   sync.Once
}

// Hub fans engine events out to websocket clients. Broadcasting is best
// effort: a full channel drops the message rather than stalling settlement.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client connected: %s (total: %d)", client.userID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, exists := h.clients[client]; exists {
				delete(h.clients, client)
				client.close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("[WS] client disconnected: %s (total: %d)", client.userID, total)

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WS] marshal error: %v", err)
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.out <- data:
				default:
					// Slow consumer; skip this frame for them.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues an event for all clients without blocking the caller.
func (h *Hub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("[WS] broadcast channel full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient attaches a connection and starts its writer.
func (h *Hub) RegisterClient(conn *websocket.Conn, userID string) *Client {
	client := &Client{
		conn:   conn,
		userID: userID,
		out:    make(chan []byte, clientSendBuffer),
	}
	go client.writeLoop()
	h.register <- client
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// Send queues a message for one client only.
func (c *Client) Send(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] send marshal error: %v", err)
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

func (c *Client) writeLoop() {
	for data := range c.out {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] write error for user %s: %v", c.userID, err)
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.out)
		c.conn.Close()
	})
}
