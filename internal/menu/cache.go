package menu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// DefaultCacheKey is the Redis key holding the encoded menu
const DefaultCacheKey = "dripos:menu"

// ItemSource loads menu items from the data service
type ItemSource interface {
	MenuItems(ctx context.Context) ([]models.MenuItem, error)
}

// Cache serves menu items from Redis and falls back to the data service
type Cache struct {
	client *redis.Client
	source ItemSource
	key    string
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache creates a cache-aside menu reader
func NewCache(client *redis.Client, source ItemSource, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client: client,
		source: source,
		key:    DefaultCacheKey,
		ttl:    10 * time.Minute,
		logger: logger,
	}
}

// SetTTL sets how long a cached menu stays valid
func (c *Cache) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

func (c *Cache) cached(ctx context.Context) ([]models.MenuItem, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		return nil, err
	}
	var items []models.MenuItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode cached menu: %w", err)
	}
	return items, nil
}

// GetMenu returns menu items, loading them from the data service on a miss.
// Concurrent misses share one load.
func (c *Cache) GetMenu(ctx context.Context) ([]models.MenuItem, error) {
	items, err := c.cached(ctx)
	if err == nil {
		return items, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("menu cache read failed", "key", c.key, "error", err)
	}

	v, err, _ := c.group.Do(c.key, func() (any, error) {
		// another caller may have filled the cache while we waited
		if items, err := c.cached(ctx); err == nil {
			return items, nil
		}

		items, err := c.source.MenuItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load menu: %w", err)
		}

		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("failed to encode menu: %w", err)
		}
		if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("menu cache write failed", "key", c.key, "error", err)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.MenuItem), nil
}

// Invalidate drops the cached menu
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate menu cache: %w", err)
	}
	return nil
}
