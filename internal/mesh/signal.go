package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/mesh-signaling/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Signaler is the orchestrator's view of the signaling transport
type Signaler interface {
	Send(msg *models.SignalMessage) error
	// Incoming is closed when the connection is gone
	Incoming() <-chan *models.SignalMessage
	// Done is closed when the connection is gone
	Done() <-chan struct{}
	Close() error
}

// SignalClient manages the WebSocket connection to the signaling hub.
type SignalClient struct {
	conn  *websocket.Conn
	codec models.Codec

	incoming chan *models.SignalMessage
	outgoing chan *models.SignalMessage
	done     chan struct{}
	closing  chan struct{}

	closeOnce sync.Once
	log       *slog.Logger
}

// Dial connects to the hub, asking for the given codec subprotocol. A hub
// that ignores the request gets JSON.
func Dial(ctx context.Context, url, subprotocol string, logger *slog.Logger) (*SignalClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: writeWait,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := newSignalClient(conn, logger)
	go c.readPump()
	go c.writePump()
	return c, nil
}

func newSignalClient(conn *websocket.Conn, logger *slog.Logger) *SignalClient {
	return &SignalClient{
		conn:     conn,
		codec:    models.CodecFor(conn.Subprotocol()),
		incoming: make(chan *models.SignalMessage, 64),
		outgoing: make(chan *models.SignalMessage, 64),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
		log:      logger.With("component", "signal"),
	}
}

// Subprotocol returns the codec subprotocol the hub accepted
func (c *SignalClient) Subprotocol() string {
	return c.codec.Subprotocol()
}

// readPump reads messages from the WebSocket connection.
func (c *SignalClient) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		close(c.done)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("Signaling connection lost", "error", err)
			}
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.log.Warn("Dropping malformed message", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.closing:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *SignalClient) writePump() {
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
		case msg := <-c.outgoing:
			data, err := c.codec.Encode(msg)
			if err != nil {
				c.log.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.done:
			return
		}
	}
}

// Send queues a message for the hub
func (c *SignalClient) Send(msg *models.SignalMessage) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrTransportLost
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrTransportLost
	case <-c.closing:
		return ErrClosed
	}
}

// Incoming returns the channel for receiving messages.
func (c *SignalClient) Incoming() <-chan *models.SignalMessage {
	return c.incoming
}

// Done is closed once the connection is gone
func (c *SignalClient) Done() <-chan struct{} {
	return c.done
}

// Close says goodbye to the hub and waits briefly for the connection to end
func (c *SignalClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		select {
		case <-c.done:
		case <-time.After(writeWait):
			c.conn.Close()
		}
	})
	return nil
}
