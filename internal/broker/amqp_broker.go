package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/streadway/amqp"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

// EventsExchange is the topic exchange every event is published to.
const EventsExchange = "vidshare.events"

// amqpChannel is the subset of *amqp.Channel the broker uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPBroker implements EventBroker on a RabbitMQ topic exchange. Each
// subscriber gets its own exclusive auto-delete queue bound to the topic.
type AMQPBroker struct {
	conn        *amqp.Connection
	openChannel func() (amqpChannel, error)

	mu        sync.Mutex // guards publisher
	publisher amqpChannel
}

func NewAMQPBroker(url string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	b, err := newAMQPBroker(func() (amqpChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.conn = conn

	logger.Log.Info("RabbitMQ broker connected",
		zap.String("exchange", EventsExchange),
	)
	return b, nil
}

func newAMQPBroker(openChannel func() (amqpChannel, error)) (*AMQPBroker, error) {
	ch, err := openChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		EventsExchange, // name
		"topic",        // kind
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPBroker{
		openChannel: openChannel,
		publisher:   ch,
	}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, topic string, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.publisher.Publish(
		EventsExchange,
		topic,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        event.Type,
			Timestamp:   event.Timestamp,
			Body:        body,
		},
	)
}

func (b *AMQPBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	// Topic ids come from request paths; wildcards would widen the binding
	if strings.ContainsAny(topic, "*#") {
		return nil, fmt.Errorf("invalid topic %q", topic)
	}

	ch, err := b.openChannel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	queue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(queue.Name, topic, EventsExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	events := make(chan Event, subscriberBuffer)

	go func() {
		defer close(events)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					logger.Log.Warn("Dropping malformed event",
						zap.String("topic", topic),
						zap.Error(err),
					)
					continue
				}

				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (b *AMQPBroker) Close() error {
	var errs []error

	b.mu.Lock()
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	b.mu.Unlock()

	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("closing RabbitMQ broker: %v", errs)
	}
	return nil
}
