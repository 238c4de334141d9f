package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// DefaultChannel is the pub/sub channel carrying catalog changes
const DefaultChannel = "dripos:changes"

// Redis carries changes between storefront instances over Redis pub/sub
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger}
}

// Dial parses url, pings the server and returns a bus on it
func Dial(ctx context.Context, url, channel string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedis(client, channel, logger), nil
}

// Publish sends change to every subscribed instance
func (r *Redis) Publish(ctx context.Context, change models.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	return nil
}

// Subscribe listens on the channel until cancel is called or ctx is done.
// The subscription is confirmed before Subscribe returns.
func (r *Redis) Subscribe(ctx context.Context, fn func(models.Change)) (func(), error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { pubsub.Close() })
	}
	stop := context.AfterFunc(ctx, cancel)
	messages := pubsub.Channel()

	go func() {
		defer stop()
		for msg := range messages {
			var change models.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				r.logger.Warn("dropping malformed change", "channel", msg.Channel, "error", err)
				continue
			}
			fn(change)
		}
	}()

	return cancel, nil
}

// Client exposes the connection so other Redis users can share it
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Close releases the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}
