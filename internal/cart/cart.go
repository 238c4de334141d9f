// Package cart accumulates per-session order quantities clamped to what the
// current stock can cover.
package cart

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// ErrCheckoutInProgress is returned when a cart is submitted while an earlier
// submission of the same cart has not finished
var ErrCheckoutInProgress = errors.New("cart is already being submitted")

// Limit returns the max orderable quantity of a menu item
type Limit func(menuItemID string) int

// Cart is safe for concurrent use
type Cart struct {
	mu          sync.Mutex
	lines       map[string]int
	limit       Limit
	checkingOut bool
}

// New creates an empty cart bounded by limit
func New(limit Limit) *Cart {
	return &Cart{lines: make(map[string]int), limit: limit}
}

// Adjust adds delta to the line and clamps the result to [0, limit].
// It never fails and returns the new quantity.
func (c *Cart) Adjust(menuItemID string, delta int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := saturatingAdd(c.lines[menuItemID], delta)
	upper := 0
	if c.limit != nil {
		upper = c.limit(menuItemID)
	}
	if next > upper {
		next = upper
	}
	if next < 0 {
		next = 0
	}

	if next == 0 {
		delete(c.lines, menuItemID)
	} else {
		c.lines[menuItemID] = next
	}
	return next
}

func saturatingAdd(a, b int) int {
	if b > 0 && a > math.MaxInt-b {
		return math.MaxInt
	}
	if b < 0 && a < math.MinInt-b {
		return math.MinInt
	}
	return a + b
}

// Quantity returns the current quantity of a line
func (c *Cart) Quantity(menuItemID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[menuItemID]
}

// Lines returns the non-empty lines sorted by menu item id
func (c *Cart) Lines() []models.OrderLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLines()
}

func (c *Cart) sortedLines() []models.OrderLine {
	out := make([]models.OrderLine, 0, len(c.lines))
	for id, qty := range c.lines {
		if qty > 0 {
			out = append(out, models.OrderLine{MenuItemID: id, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuItemID < out[j].MenuItemID })
	return out
}

// IsEmpty reports whether no line has a positive quantity
func (c *Cart) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

// Reset empties the cart
func (c *Cart) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = make(map[string]int)
}

// Checkout snapshots the lines for submission. Until done is called no other
// checkout of this cart can start. done removes the committed quantities and
// leaves anything added meanwhile; pass nil when nothing was committed.
func (c *Cart) Checkout() (lines []models.OrderLine, done func(committed []models.OrderLine), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkingOut {
		return nil, nil, ErrCheckoutInProgress
	}
	c.checkingOut = true

	var once sync.Once
	done = func(committed []models.OrderLine) {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for _, line := range committed {
				if left := c.lines[line.MenuItemID] - line.Quantity; left > 0 {
					c.lines[line.MenuItemID] = left
				} else {
					delete(c.lines, line.MenuItemID)
				}
			}
			c.checkingOut = false
		})
	}
	return c.sortedLines(), done, nil
}

func (c *Cart) inCheckout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkingOut
}

type session struct {
	cart     *Cart
	lastSeen time.Time
}

// Sessions keeps one cart per interaction session. Carts idle for longer
// than the expiry passed to Expire or RunExpiry are dropped.
type Sessions struct {
	mu    sync.Mutex
	carts map[string]*session
	limit Limit
	now   func() time.Time
}

// NewSessions creates an empty registry whose carts share limit
func NewSessions(limit Limit) *Sessions {
	return &Sessions{carts: make(map[string]*session), limit: limit, now: time.Now}
}

// Get returns the cart for session, creating it on first use
func (s *Sessions) Get(id string) *Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.carts[id]
	if !ok {
		sess = &session{cart: New(s.limit)}
		s.carts[id] = sess
	}
	sess.lastSeen = s.now()
	return sess.cart
}

// Drop forgets a session's cart
func (s *Sessions) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
}

// Expire drops carts not touched within idle, except carts being submitted.
// It returns how many were dropped.
func (s *Sessions) Expire(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-idle)
	dropped := 0
	for id, sess := range s.carts {
		if sess.lastSeen.Before(cutoff) && !sess.cart.inCheckout() {
			delete(s.carts, id)
			dropped++
		}
	}
	return dropped
}

// RunExpiry calls Expire every interval until ctx is done. A zero idle
// duration keeps sessions forever.
func (s *Sessions) RunExpiry(ctx context.Context, interval, idle time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Expire(idle)
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}
