// Package notify delivers store change notifications to subscribers, either
// in-process or across instances over Redis pub/sub.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// Publisher announces a committed change
type Publisher interface {
	Publish(ctx context.Context, change models.Change) error
}

// Local fans changes out to in-process subscribers. A slow subscriber never
// blocks Publish: changes queued for it are merged until it catches up.
type Local struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	logger *slog.Logger
}

type subscriber struct {
	pending models.Change
	queued  bool
	signal  chan struct{}
	done    chan struct{}
}

// NewLocal creates an empty bus
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{subs: make(map[int]*subscriber), logger: logger}
}

// Subscribe calls fn from a dedicated goroutine for every published change
// until cancel is called or ctx is done.
func (l *Local) Subscribe(ctx context.Context, fn func(models.Change)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscriber{signal: make(chan struct{}, 1), done: make(chan struct{})}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = sub
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(sub.done)
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-sub.done:
				return
			case <-sub.signal:
				l.mu.Lock()
				change := sub.pending
				sub.pending = models.Change{}
				sub.queued = false
				l.mu.Unlock()
				fn(change)
			}
		}
	}()

	return cancel, nil
}

// Publish queues change for every subscriber
func (l *Local) Publish(_ context.Context, change models.Change) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs {
		sub.pending = sub.pending.Merge(change)
		if !sub.queued {
			sub.queued = true
			select {
			case sub.signal <- struct{}{}:
			default:
			}
		}
	}
	l.logger.Debug("change published", "collections", change.Collections, "subscribers", len(l.subs))
	return nil
}

// Subscribers returns the number of live subscriptions
func (l *Local) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
