package notifications

import (
	"context"
	"errors"
	"strings"

	"framez/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the fanout exchange change events are published to.
const DefaultExchange = "framez.changes"

// AMQPBus wraps a RabbitMQ connection/channel pair. Every instance binds its own
// exclusive queue to a fanout exchange so each API process sees every event.
type AMQPBus struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPBus dials url and declares the fanout exchange.
func NewAMQPBus(url string) (*AMQPBus, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("amqp url is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(DefaultExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &AMQPBus{conn: conn, channel: ch, exchange: DefaultExchange}, nil
}

// Name implements Bus.
func (b *AMQPBus) Name() string { return "amqp" }

// Publish sends ev to the exchange.
func (b *AMQPBus) Publish(ctx context.Context, ev ChangeEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return b.channel.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   ev.DocID,
		Type:        string(ev.Kind),
		Body:        data,
	})
}

// Subscribe declares a server-named exclusive queue, binds it and consumes until ctx is done.
func (b *AMQPBus) Subscribe(ctx context.Context, h Handler) error {
	q, err := b.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := b.channel.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return err
	}

	consumerTag := "framez-" + q.Name
	deliveries, err := b.channel.Consume(q.Name, consumerTag, true, true, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer func() {
			_ = b.channel.Cancel(consumerTag, false)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				ev, err := decodeEvent(delivery.Body)
				if err != nil {
					observability.GlobalLogger.Warn("dropping malformed change event",
						"bus", b.Name(), "error", err.Error())
					continue
				}
				dispatch(b.Name(), h, ev)
			}
		}
	}()
	return nil
}

// Close closes the underlying channel and connection.
func (b *AMQPBus) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
