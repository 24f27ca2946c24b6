// Package broker publishes order events to a RabbitMQ fanout exchange for
// downstream consumers such as kitchen displays or notification workers.
package broker

import (
	"context"
	"fmt"
	"sync"

	"qrfood/order-service/internal/store"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "order_events_fanout"

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	open     func() (channel, error)
	closeFn  func() error
	exchange string
	ch       channel
}

// Dial connects to the broker. The channel is opened lazily and reopened
// after a failed publish.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	p := newPublisher(func() (channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, exchange)
	p.closeFn = conn.Close
	return p, nil
}

func newPublisher(open func() (channel, error), exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{open: open, exchange: exchange, closeFn: func() error { return nil }}
}

// Publish sends one outbox event. The event id doubles as the AMQP message id
// so consumers can drop redeliveries.
func (p *Publisher) Publish(ctx context.Context, event store.OutboxEvent, queueLabel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    event.EventID,
		Type:         event.Type,
		Timestamp:    event.CreatedAt,
		Headers:      amqp.Table{"queue_label": queueLabel},
		Body:         event.Payload,
	})
	if err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	return p.closeFn()
}

// channel must be called with p.mu held.
func (p *Publisher) channel() (channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	p.ch = ch
	return ch, nil
}
