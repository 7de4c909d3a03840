// Package service holds outbound integrations used by the token service.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/afyatrack/afyatrack-api/internal/queue"
)

// AMQPPublisher publishes auth events to the durable auth.events queue.
// It dials per publish; auth events are rare enough that a long-lived
// connection is not worth the reconnect bookkeeping.
type AMQPPublisher struct {
	URL         string
	DialTimeout time.Duration
	Log         zerolog.Logger
}

func NewAMQPPublisher(url string, log zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{URL: url, DialTimeout: 2 * time.Second, Log: log}
}

// Publish sends ev as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.DialTimeout)})
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.AuthQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	defer cancel()
	err = ch.PublishWithContext(ctx, "", queue.AuthQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.Log.Debug().Str("event", ev.Type).Msg("auth event published")
	return nil
}

// LogPublisher writes events to the application log. It is used when no
// broker is configured.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev queue.AuthEvent) error {
	p.Log.Info().
		Str("event", ev.Type).
		Uint64("user_id", ev.UserID).
		Str("ip", ev.IP).
		Int64("count", ev.Count).
		Msg("auth event")
	return nil
}
