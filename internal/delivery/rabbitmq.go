package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitChannel publishes events to a durable RabbitMQ queue.
type RabbitChannel struct {
	mu    sync.Mutex
	conn  *amqp091.Connection
	ch    amqpChannel
	queue string
}

// NewRabbitChannel connects to url and declares queue.
func NewRabbitChannel(url, queue string) (*RabbitChannel, error) {
	if queue == "" {
		return nil, fmt.Errorf("RabbitMQ queue cannot be empty")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare RabbitMQ queue %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &RabbitChannel{conn: conn, ch: ch, queue: queue}, nil
}

// Name implements Channel.
func (r *RabbitChannel) Name() string { return "rabbitmq" }

// Deliver implements Channel.
func (r *RabbitChannel) Deliver(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.ch.PublishWithContext(ctx,
		"",      // default exchange
		r.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    event.ID,
			Type:         event.EventType,
			Timestamp:    event.CreatedAt,
			Body:         event.Data,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", r.queue, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (r *RabbitChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ch.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
