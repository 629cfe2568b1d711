package cache

import (
	"context"

	"cryptoalerter/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publish publishes a message to a Redis channel
func (c *Cache) Publish(ctx context.Context, channel string, message string) error {
	return c.Client.Publish(ctx, channel, message).Err()
}

// Subscriber represents a subscription to a Redis channel
type Subscriber struct {
	pubsub *redis.PubSub
}

// Subscribe creates a new Redis subscriber on the given channel.
func (c *Cache) Subscribe(ctx context.Context, channel string) (*Subscriber, error) {
	pubsub := c.Client.Subscribe(ctx, channel)

	// Confirm subscription
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	logger.Log.Info("Subscribed to Redis channel", zap.String("channel", channel))
	return &Subscriber{pubsub: pubsub}, nil
}

// ReceiveMessage waits for and returns the next message
func (s *Subscriber) ReceiveMessage(ctx context.Context) (*redis.Message, error) {
	return s.pubsub.ReceiveMessage(ctx)
}

// Close closes the subscription
func (s *Subscriber) Close() error {
	return s.pubsub.Close()
}
