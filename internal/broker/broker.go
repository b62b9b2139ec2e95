// Package broker publishes booking lifecycle messages to RabbitMQ.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/ticket-allocation/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Routing keys for booking lifecycle messages.
const (
	KeyBookingConfirmed  = "booking.confirmed"
	KeyBookingWaitlisted = "booking.waitlisted"
	KeyBookingCancelled  = "booking.cancelled"
	KeyBookingPromoted   = "booking.promoted"
)

// BookingMessage is the JSON body published for every booking transition.
type BookingMessage struct {
	BookingID     string              `json:"bookingId"`
	EventID       string              `json:"eventId"`
	RequesterID   string              `json:"requesterId"`
	Status        model.BookingStatus `json:"status"`
	QueuePosition *int                `json:"queuePosition,omitempty"`
	OccurredAt    time.Time           `json:"occurredAt"`
}

// NewBookingMessage snapshots b for publishing.
func NewBookingMessage(b *model.Booking, at time.Time) BookingMessage {
	msg := BookingMessage{
		BookingID:   b.ID,
		EventID:     b.EventID,
		RequesterID: b.RequesterID,
		Status:      b.Status,
		OccurredAt:  at.UTC(),
	}
	if b.QueuePosition != nil {
		pos := *b.QueuePosition
		msg.QueuePosition = &pos
	}
	return msg
}

// Publisher sends a message under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, message any) error
	Close() error
}

// Noop discards every message. Used when no broker URL is configured.
type Noop struct{}

// Publish drops the message and reports success.
func (Noop) Publish(context.Context, string, any) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

// AMQP publishes JSON messages to a durable topic exchange and reconnects
// lazily when the connection drops.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	url      string
	log      logrus.FieldLogger
}

// Dial connects to RabbitMQ and declares the exchange.
func Dial(url, exchange string, log logrus.FieldLogger) (*AMQP, error) {
	b := &AMQP{exchange: exchange, url: url, log: log}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *AMQP) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if b.exchange != "" {
		err = ch.ExchangeDeclare(
			b.exchange,
			"topic",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("declare exchange %q: %w", b.exchange, err)
		}
	}

	b.conn = conn
	b.channel = ch
	return nil
}

func (b *AMQP) ensureConnection() error {
	if b.conn != nil && !b.conn.IsClosed() && b.channel != nil && !b.channel.IsClosed() {
		return nil
	}
	b.log.Warn("rabbitmq connection lost, reconnecting")
	return b.connect()
}

// Publish marshals message as JSON and publishes it under key.
func (b *AMQP) Publish(ctx context.Context, key string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureConnection(); err != nil {
		return err
	}

	err = b.channel.PublishWithContext(ctx,
		b.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	b.log.WithField("routing_key", key).Debug("published message")
	return nil
}

// Close shuts down the channel and connection.
func (b *AMQP) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.channel != nil && !b.channel.IsClosed() {
		if err := b.channel.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}
