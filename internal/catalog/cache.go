// Package catalog keeps the latest menu and ingredient snapshot in memory
// and hands it to readers and watchers as a {loading, error, data} state.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

// State is the query result exposed to readers
type State struct {
	IsLoading bool
	Err       error
	Data      models.Catalog
	Version   uint64
}

// MarshalJSON renders the error as a string
func (s State) MarshalJSON() ([]byte, error) {
	var errText *string
	if s.Err != nil {
		msg := s.Err.Error()
		errText = &msg
	}
	return json.Marshal(struct {
		IsLoading bool           `json:"isLoading"`
		Error     *string        `json:"error"`
		Data      models.Catalog `json:"data"`
		Version   uint64         `json:"version"`
	}{s.IsLoading, errText, s.Data, s.Version})
}

// MenuLoader supplies menu items, typically from a cache in front of the store
type MenuLoader interface {
	GetMenu(ctx context.Context) ([]models.MenuItem, error)
}

// Option configures a Cache
type Option func(*Cache)

// WithMenuLoader reads menu items through m instead of the store
func WithMenuLoader(m MenuLoader) Option {
	return func(c *Cache) { c.menu = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache holds the current catalog snapshot
type Cache struct {
	source store.Reader
	menu   MenuLoader
	logger *slog.Logger

	group     singleflight.Group
	requested atomic.Uint64

	mu       sync.RWMutex
	state    State
	watchers map[int]chan State
	nextID   int
}

// New creates a cache in the loading state
func New(source store.Reader, opts ...Option) *Cache {
	c := &Cache{
		source:   source,
		logger:   slog.Default(),
		state:    State{IsLoading: true},
		watchers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the latest state
func (c *Cache) Current() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready returns the snapshot when it can be used for mutations
func (c *Cache) Ready() (models.Catalog, error) {
	s := c.Current()
	if s.Err != nil {
		return s.Data, s.Err
	}
	if s.IsLoading {
		return s.Data, &models.LoadError{Err: models.ErrCatalogLoading}
	}
	return s.Data, nil
}

// Refresh reloads the snapshot. Concurrent calls share one load, and a load
// that overlaps a newer request runs again before returning.
func (c *Cache) Refresh(ctx context.Context) error {
	c.requested.Add(1)
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		return nil, c.load(ctx)
	})
	return err
}

func (c *Cache) load(ctx context.Context) error {
	for {
		gen := c.requested.Load()
		data, err := c.fetch(ctx)
		if err != nil {
			c.Fail(err)
			return c.Current().Err
		}
		if c.requested.Load() == gen {
			c.publish(func(s *State) {
				s.IsLoading = false
				s.Err = nil
				s.Data = data
			})
			return nil
		}
	}
}

func (c *Cache) fetch(ctx context.Context) (models.Catalog, error) {
	var items []models.MenuItem
	var err error
	if c.menu != nil {
		items, err = c.menu.GetMenu(ctx)
	} else {
		items, err = c.source.MenuItems(ctx)
	}
	if err != nil {
		return models.Catalog{}, fmt.Errorf("failed to load menu items: %w", err)
	}
	ings, err := c.source.Ingredients(ctx)
	if err != nil {
		return models.Catalog{}, fmt.Errorf("failed to load ingredients: %w", err)
	}
	return models.Catalog{MenuItems: items, Ingredients: ings}, nil
}

// Fail marks the catalog unusable. The last good data stays visible.
func (c *Cache) Fail(err error) {
	c.logger.Warn("catalog unavailable", "error", err)
	c.publish(func(s *State) {
		s.IsLoading = false
		s.Err = &models.LoadError{Err: err}
	})
}

func (c *Cache) publish(update func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	update(&c.state)
	c.state.Version++
	for _, ch := range c.watchers {
		offer(ch, c.state)
	}
}

// offer replaces whatever the watcher has not consumed yet
func offer(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Watch streams states starting with the current one. Only the latest
// state is kept for a slow reader. The channel closes when ctx is done.
func (c *Cache) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	context.AfterFunc(ctx, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
		close(ch)
	})
	return ch
}

// Watchers returns the number of open watch channels
func (c *Cache) Watchers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.watchers)
}
