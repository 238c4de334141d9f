package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

// Invalidator drops cached menu items
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Syncer keeps a Cache current: it refreshes on every store change and on a
// periodic resync in case a notification was lost.
type Syncer struct {
	cache          *Cache
	source         store.Subscriber
	menu           Invalidator
	resyncInterval time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	lastSync time.Time
	unsub    func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSyncer creates a syncer for cache fed by source
func NewSyncer(cache *Cache, source store.Subscriber, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		cache:          cache,
		source:         source,
		resyncInterval: time.Minute,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetResyncInterval sets how often the catalog is reloaded without a change; zero disables it
func (s *Syncer) SetResyncInterval(interval time.Duration) {
	s.resyncInterval = interval
}

// SetMenuCache registers a menu cache to invalidate when menu items change
func (s *Syncer) SetMenuCache(menu Invalidator) {
	s.menu = menu
}

// Start subscribes to changes and performs the first load. A failed first
// load is reported through the cache state and does not stop the syncer.
func (s *Syncer) Start() error {
	unsub, err := s.source.Subscribe(s.ctx, s.handle)
	if err != nil {
		err = fmt.Errorf("catalog subscription failed: %w", err)
		s.cache.Fail(err)
		return err
	}
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	s.sync(models.Change{})

	if s.resyncInterval > 0 {
		s.StartAutoResync()
	}
	return nil
}

func (s *Syncer) handle(change models.Change) {
	s.sync(change)
}

func (s *Syncer) sync(change models.Change) {
	if s.menu != nil && change.Touches(models.CollectionMenuItems) {
		if err := s.menu.Invalidate(s.ctx); err != nil {
			s.logger.Warn("menu cache invalidation failed", "error", err)
		}
	}
	if err := s.cache.Refresh(s.ctx); err != nil {
		s.logger.Warn("catalog refresh failed", "error", err)
		return
	}
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
	s.logger.Debug("catalog refreshed", "collections", change.Collections, "version", s.cache.Current().Version)
}

// StartAutoResync starts the background resync loop
func (s *Syncer) StartAutoResync() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.resyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				since := time.Since(s.lastSync)
				s.mu.Unlock()

				if since >= s.resyncInterval || s.cache.Current().Err != nil {
					s.sync(models.Change{})
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the resync loop to exit
func (s *Syncer) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.cancel()
	s.wg.Wait()
}
