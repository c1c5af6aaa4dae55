package signaling

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// Client represents one websocket connection, i.e. one participant
type Client struct {
	ID    models.ParticipantID
	hub   *Hub
	conn  *websocket.Conn
	codec models.Codec
	send  chan *models.SignalMessage
	log   *slog.Logger
}

// NewClient wraps an upgraded connection. The participant id is assigned here
// and lives as long as the connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	id := models.ParticipantID(uuid.New().String())
	return &Client{
		ID:    id,
		hub:   hub,
		conn:  conn,
		codec: models.CodecFor(conn.Subprotocol()),
		send:  make(chan *models.SignalMessage, hub.sendQueueSize),
		log:   hub.log.With("peer", id),
	}
}

// Start registers the client and starts its pumps
func (c *Client) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the connection to the hub. It is the only reader
// of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket error", "error", err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		c.hub.submit(inboundMessage{client: c, msg: msg, err: err})
	}
}

// writePump pumps messages from the hub to the connection and keeps it alive
// with pings. It is the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Encode(msg)
			if err != nil {
				c.log.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				c.log.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
