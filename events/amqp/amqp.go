// Package amqp delivers engine events to RabbitMQ so downstream
// consumers (notification senders, dashboards) can react to them.
// Publish failures are logged and returned; the engine ignores them,
// so a broker outage never interrupts a transition.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/booking-engine/engine"
)

// QueueName is the durable queue every event is published to. Consumers
// route on the embedded event name.
const QueueName = "booking.events"

// envelope wraps an event with its name so consumers can dispatch
// without inspecting the payload shape.
type envelope struct {
	Event string       `json:"event"`
	At    time.Time    `json:"published_at"`
	Data  engine.Event `json:"data"`
}

// Publisher implements engine.Publisher on top of a RabbitMQ connection.
type Publisher struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ engine.Publisher = (*Publisher)(nil)

// New dials the broker and declares the durable event queue. The
// connection is kept open; Close releases it.
func New(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	if _, err := ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}
	return &Publisher{conn: conn, ch: ch}, nil
}

// Publish sends one event as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, e engine.Event) error {
	body, err := json.Marshal(envelope{
		Event: e.EventName(),
		At:    time.Now().UTC(),
		Data:  e,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		"",        // default exchange
		QueueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		log.Printf("rabbitmq: publish %s failed: %v", e.EventName(), err)
		return err
	}
	return nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
