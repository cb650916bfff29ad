package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"gridwatch/metrics"
	"gridwatch/models"

	"github.com/apex/log"
	gorilla "github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// FeedMessage is sent to every feed client when a report changes
type FeedMessage struct {
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	ReportID  string         `json:"report_id"`
	Data      *models.Report `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub manages live feed connections and broadcasting
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mutex            sync.RWMutex
	connectedClients int
}

// NewHub creates a new feed hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns after Stop
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.connectedClients = 0
			h.mutex.Unlock()
			metrics.FeedClients.Set(0)
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
			metrics.FeedClients.Set(float64(h.connectedClients))
			log.Debugf("Feed client connected. Total clients: %d", h.connectedClients)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connectedClients = len(h.clients)
			}
			h.mutex.Unlock()
			metrics.FeedClients.Set(float64(h.connectedClients))
			log.Debugf("Feed client disconnected. Total clients: %d", h.connectedClients)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
		}
	}
}

// Stop ends Run and closes every client
func (h *Hub) Stop() {
	close(h.done)
}

// BroadcastReport tells every feed client that a report was created, updated or deleted
func (h *Hub) BroadcastReport(event, reportID string, report *models.Report) {
	message := FeedMessage{
		Type:      "report",
		Event:     event,
		ReportID:  reportID,
		Data:      report,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Errorf("Failed to marshal feed message: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warnf("Feed broadcast queue full, dropping %s event for report %s", event, reportID)
	}
}

// ConnectedClients returns the current number of feed clients
func (h *Hub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients
}

// Client is one live feed connection
type Client struct {
	hub  *Hub
	conn *gorilla.Conn
	send chan []byte
}

// Serve registers a connection with the hub and starts its pumps
func (h *Hub) Serve(conn *gorilla.Conn) {
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// readPump drains client messages so control frames are processed; the feed is one-way
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if gorilla.IsUnexpectedCloseError(err, gorilla.CloseGoingAway, gorilla.CloseAbnormalClosure) {
				log.Warnf("Feed connection closed unexpectedly: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(gorilla.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gorilla.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gorilla.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
