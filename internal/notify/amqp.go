// ABOUTME: AMQP implementation of the push event publisher
// ABOUTME: Topic exchange, persistent JSON messages, channel per publish

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/stingtao/chat/internal/metrics"
)

// AMQPPublisher publishes push events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "notify"),
	}, nil
}

// Publish sends one event with routing key "push.{tenant}.{kind}".
func (p *AMQPPublisher) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening amqp channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling push event: %w", err)
	}

	key := fmt.Sprintf("push.%s.%s", ev.TenantID, ev.Kind)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing push event: %w", err)
	}

	metrics.PushNotificationsPublished.Inc()
	p.logger.Debug("push event published",
		"kind", ev.Kind,
		"tenant", ev.TenantID,
		"recipients", len(ev.Recipients))
	return nil
}

// Close shuts down the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
