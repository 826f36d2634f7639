package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pings
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

// Client is one websocket connection of a signed-in user
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID string
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{Hub: hub, Conn: conn, Send: make(chan []byte, sendBuffer), UserID: userID}
}

// WebSocketMessage is the standard message format for WebSocket communication
type WebSocketMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	User string `json:"user,omitempty"`
}

// ReadPump reads from the connection until it closes. The only message a
// client may send is a ping.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).WithField("user", c.UserID).Warn("websocket error")
			}
			break
		}
		c.handle(message)
	}
}

// handle answers a ping with a pong. The pong goes through the hub, which
// owns Send and drops replies to clients it no longer tracks.
func (c *Client) handle(message []byte) {
	var wsMessage WebSocketMessage
	if err := json.Unmarshal(message, &wsMessage); err != nil {
		c.Hub.logger.WithError(err).Debug("unreadable websocket message")
		return
	}
	if wsMessage.Type != "ping" {
		return
	}

	pong, err := json.Marshal(WebSocketMessage{
		Type: "pong",
		Data: map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return
	}
	c.Hub.reply(c, pong)
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current WebSocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type envelope struct {
	userID  string
	payload []byte
}

type response struct {
	client  *Client
	payload []byte
}

// Hub tracks the open connections of every user and fans board events out
// to the connections of the user they belong to.
type Hub struct {
	clients    map[string]map[*Client]bool
	outbox     chan envelope
	replies    chan response
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		outbox:     make(chan envelope, sendBuffer),
		replies:    make(chan response, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues message for every connection of userID. It never blocks
// the caller; when the queue is full the message is dropped.
func (h *Hub) Publish(userID string, message WebSocketMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal websocket message")
		return
	}

	select {
	case h.outbox <- envelope{userID: userID, payload: payload}:
	default:
		h.logger.WithField("user", userID).Warn("websocket queue full, event dropped")
	}
}

func (h *Hub) reply(client *Client, payload []byte) {
	select {
	case h.replies <- response{client: client, payload: payload}:
	case <-h.done:
	default:
		h.logger.WithField("user", client.UserID).Debug("reply queue full, pong dropped")
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					close(client.Send)
				}
			}
			h.clients = map[string]map[*Client]bool{}
			return
		case client := <-h.register:
			set, ok := h.clients[client.UserID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.UserID] = set
			}
			set[client] = true
			h.logger.WithField("user", client.UserID).Debug("client connected")
		case client := <-h.unregister:
			h.remove(client)
		case r := <-h.replies:
			if !h.clients[r.client.UserID][r.client] {
				continue
			}
			select {
			case r.client.Send <- r.payload:
			default:
			}
		case msg := <-h.outbox:
			for client := range h.clients[msg.userID] {
				select {
				case client.Send <- msg.payload:
				default:
					// Client's send buffer is full, assume disconnected
					h.logger.WithField("user", client.UserID).Warn("client send buffer full, removing client")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.UserID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.UserID)
	}
	close(client.Send)
	h.logger.WithField("user", client.UserID).Debug("client disconnected")
}
