// Package events publishes room lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/streadway/amqp"
)

const reconnectDelay = 500 * time.Millisecond

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher forwards hub room events to a topic exchange. Routing keys are
// "room.<event type>", e.g. "room.member-joined".
type Publisher struct {
	ch       Channel
	exchange string
	events   chan models.RoomEvent
	closer   io.Closer
	log      *slog.Logger
}

// NewPublisher wraps an already open channel
func NewPublisher(ch Channel, exchange string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		events:   make(chan models.RoomEvent, 1024),
		log:      logger.With("component", "events"),
	}
}

// Connect dials the broker, retrying until ctx is done, and declares the exchange
func Connect(ctx context.Context, url, exchange string, logger *slog.Logger) (*Publisher, error) {
	conn, err := dial(ctx, url, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := NewPublisher(ch, exchange, logger)
	p.closer = conn
	return p, nil
}

func dial(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	for {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}

		logger.Warn("Trying to reconnect to RabbitMQ", "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		case <-time.After(reconnectDelay):
		}
	}
}

// OnRoomEvent queues an event without blocking the hub
func (p *Publisher) OnRoomEvent(ev models.RoomEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("Event queue full, dropping event", "type", ev.Type, "room", ev.RoomID)
	}
}

// Run publishes queued events until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.events:
			if err := p.publish(ev); err != nil {
				p.log.Warn("Failed to publish room event", "type", ev.Type, "room", ev.RoomID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) publish(ev models.RoomEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return p.ch.Publish(
		p.exchange,
		RoutingKey(ev.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   ev.At,
			Body:        body,
		},
	)
}

// RoutingKey returns the topic routing key for an event type
func RoutingKey(t models.RoomEventType) string {
	return "room." + string(t)
}

// Close closes the broker connection if the publisher owns one
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
