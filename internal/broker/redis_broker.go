package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

// RedisBroker implements EventBroker with Redis pub/sub
type RedisBroker struct {
	client *redis.Client
	owned  bool
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// NewRedisBrokerFromURL parses redisURL, connects and pings
func NewRedisBrokerFromURL(ctx context.Context, redisURL string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBroker{client: client, owned: true}, nil
}

func (r *RedisBroker) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, topic, data).Err()
}

func (r *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	pubsub := r.client.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so no publish after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	events := make(chan Event, subscriberBuffer)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case redisMsg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(redisMsg.Payload), &event); err != nil {
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

// Close closes the Redis client only if the broker created it.
func (r *RedisBroker) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
