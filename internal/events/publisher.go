// Package events publishes dashboard activity to an AMQP exchange so other
// services (analytics, moderation) can consume it. Publishing is advisory:
// every failure is logged and swallowed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Activity event types.
const (
	TypePresenceOnline  = "presence.online"
	TypePresenceOffline = "presence.offline"
	TypeQuizCreated     = "quiz.created"
	TypeQuizUpdated     = "quiz.updated"
	TypeQuizDeleted     = "quiz.deleted"
	TypeViewActivated   = "view.activated"
)

// Event is the JSON envelope published for each activity.
type Event struct {
	Type string         `json:"type"`
	UID  string         `json:"uid,omitempty"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Publisher sends events to a topic exchange. A nil *Publisher is valid and
// drops everything, so callers never need to guard.
type Publisher struct {
	ch       *amqp.Channel
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Publisher{ch: ch, conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish emits one event with the event type as routing key.
func (p *Publisher) Publish(ctx context.Context, eventType, uid string, data map[string]any) {
	if p == nil {
		return
	}
	body, err := json.Marshal(Event{
		Type: eventType,
		UID:  uid,
		At:   time.Now().UTC(),
		Data: data,
	})
	if err != nil {
		p.logger.Warn("activity event encode failed", "type", eventType, "err", err)
		return
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, eventType, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.logger.Warn("activity event publish failed", "type", eventType, "err", err)
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
