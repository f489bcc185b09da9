package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chessdao/backend/internal/events"
	"github.com/chessdao/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST API; the stream is read-only
	},
}

// Client is one websocket connection watching a game
type Client struct {
	conn   *websocket.Conn
	gameID string
	send   chan []byte
}

// Hub fans game events out to the clients watching each game
type Hub struct {
	gameRooms  map[string]map[*Client]bool // gameID -> clients
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new Hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		gameRooms:  make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for gameID, room := range h.gameRooms {
				for c := range room {
					close(c.send)
				}
				delete(h.gameRooms, gameID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, exists := h.gameRooms[client.gameID]; !exists {
				h.gameRooms[client.gameID] = make(map[*Client]bool)
			}
			h.gameRooms[client.gameID][client] = true
			size := len(h.gameRooms[client.gameID])
			h.mu.Unlock()
			log.Printf("[WS] Watcher joined game %s (room_size=%d)", client.gameID, size)

		case client := <-h.unregister:
			h.mu.Lock()
			if room, exists := h.gameRooms[client.gameID]; exists && room[client] {
				delete(room, client)
				close(client.send)
				if len(room) == 0 {
					delete(h.gameRooms, client.gameID)
				}
			}
			h.mu.Unlock()
			log.Printf("[WS] Watcher left game %s", client.gameID)
		}
	}
}

// RoomSize returns the number of clients watching gameID
func (h *Hub) RoomSize(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.gameRooms[gameID])
}

// BroadcastToGame sends a message to everyone watching a game
func (h *Hub) BroadcastToGame(gameID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.gameRooms[gameID] {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] Client send buffer full in game %s, dropping message", gameID)
		}
	}
}

// Publish delivers an event straight to local watchers. Used when no Redis is configured.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	if ev.GameID != "" {
		h.BroadcastToGame(ev.GameID, ev)
	}
	return nil
}

// GameLookup loads the game a client asks to watch
type GameLookup func(ctx context.Context, gameID string) (*models.Game, error)

// HandleGameStream upgrades the request and streams events for the game in the :id param.
// The current game state is sent first.
func HandleGameStream(h *Hub, lookup GameLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID := c.Param("id")
		g, err := lookup(c.Request.Context(), gameID)
		if err != nil || g == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[WS] Upgrade error: %v", err)
			return
		}

		client := &Client{conn: conn, gameID: g.ID, send: make(chan []byte, 64)}
		snapshot, _ := json.Marshal(events.ForGame(g, time.Now().UTC()))
		client.send <- snapshot

		select {
		case h.register <- client:
		case <-h.done:
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump(h)
	}
}

// readPump drains the connection so control frames are processed; watchers send nothing
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error in game %s: %v", c.gameID, err)
			}
			return
		}
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error in game %s: %v", c.gameID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
