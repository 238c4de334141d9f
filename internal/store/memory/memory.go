// Package memory is an in-process data service. Each batch is applied to a
// copy of the state which replaces the live state only if every mutation
// succeeds.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/notify"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

type state struct {
	ingredients  map[string]models.Ingredient
	menuItems    map[string]models.MenuItem
	orders       map[string]models.Order
	transactions map[string]models.Transaction
	// insertion order per collection
	order map[models.Collection][]string
}

func newState() *state {
	return &state{
		ingredients:  map[string]models.Ingredient{},
		menuItems:    map[string]models.MenuItem{},
		orders:       map[string]models.Order{},
		transactions: map[string]models.Transaction{},
		order:        map[models.Collection][]string{},
	}
}

func (s *state) clone() *state {
	c := &state{
		ingredients:  make(map[string]models.Ingredient, len(s.ingredients)),
		menuItems:    make(map[string]models.MenuItem, len(s.menuItems)),
		orders:       make(map[string]models.Order, len(s.orders)),
		transactions: make(map[string]models.Transaction, len(s.transactions)),
		order:        make(map[models.Collection][]string, len(s.order)),
	}
	for k, v := range s.ingredients {
		c.ingredients[k] = v
	}
	for k, v := range s.menuItems {
		c.menuItems[k] = cloneMenuItem(v)
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.order {
		c.order[k] = append([]string(nil), v...)
	}
	return c
}

func cloneMenuItem(m models.MenuItem) models.MenuItem {
	m.RequiredIngredients = append([]models.RecipeLine(nil), m.RequiredIngredients...)
	return m
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderLine(nil), o.Items...)
	return o
}

// Store is the in-memory data service
type Store struct {
	mu     sync.RWMutex
	state  *state
	bus    *notify.Local
	logger *slog.Logger
}

// New creates an empty store
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{state: newState(), bus: notify.NewLocal(logger), logger: logger}
}

// Apply runs every mutation against a copy of the state and swaps it in
// only when all of them succeed.
func (s *Store) Apply(ctx context.Context, b batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.Mutations) == 0 {
		return nil
	}

	s.mu.Lock()
	next := s.state.clone()
	for i, m := range b.Mutations {
		if err := next.apply(m); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("mutation %d (%s %s/%s): %w", i, m.Kind, m.Collection, m.ID, err)
		}
	}
	s.state = next
	s.mu.Unlock()

	change := models.Change{Collections: b.Collections()}
	s.logger.Debug("batch applied", "mutations", len(b.Mutations), "collections", change.Collections)
	return s.bus.Publish(ctx, change)
}

func (s *state) apply(m batch.Mutation) error {
	switch m.Kind {
	case batch.KindCreate:
		return s.create(m)
	case batch.KindUpdate:
		return s.update(m)
	case batch.KindIncrement:
		return s.adjust(m, m.Amount)
	case batch.KindDecrement:
		return s.adjust(m, m.Amount.Neg())
	}
	return fmt.Errorf("%w: kind %q", store.ErrUnsupported, m.Kind)
}

func (s *state) create(m batch.Mutation) error {
	if s.exists(m.Collection, m.ID) {
		return store.ErrDuplicateID
	}
	switch m.Collection {
	case models.CollectionIngredients:
		rec := models.Ingredient{ID: m.ID}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if s.nameTaken(rec.Name, m.ID) {
			return store.ErrDuplicateName
		}
		s.ingredients[m.ID] = rec
	case models.CollectionMenuItems:
		rec := models.MenuItem{ID: m.ID}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		s.menuItems[m.ID] = rec
	case models.CollectionOrders:
		rec := models.Order{ID: m.ID}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		s.orders[m.ID] = rec
	case models.CollectionTransactions:
		rec := models.Transaction{ID: m.ID}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		s.transactions[m.ID] = rec
	default:
		return fmt.Errorf("%w: collection %q", store.ErrUnsupported, m.Collection)
	}
	s.order[m.Collection] = append(s.order[m.Collection], m.ID)
	return nil
}

func (s *state) update(m batch.Mutation) error {
	switch m.Collection {
	case models.CollectionIngredients:
		rec, ok := s.ingredients[m.ID]
		if !ok {
			return store.ErrNotFound
		}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if s.nameTaken(rec.Name, m.ID) {
			return store.ErrDuplicateName
		}
		s.ingredients[m.ID] = rec
	case models.CollectionOrders:
		rec, ok := s.orders[m.ID]
		if !ok {
			return store.ErrNotFound
		}
		if err := rec.ApplyFields(m.Fields); err != nil {
			return err
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		s.orders[m.ID] = rec
	default:
		// menu items are immutable after creation, transactions are append-only
		return fmt.Errorf("%w: update on %s", store.ErrUnsupported, m.Collection)
	}
	return nil
}

func (s *state) adjust(m batch.Mutation, delta decimal.Decimal) error {
	if m.Collection != models.CollectionIngredients || m.Field != models.FieldQuantity {
		return fmt.Errorf("%w: %s on %s.%s", store.ErrUnsupported, m.Kind, m.Collection, m.Field)
	}
	rec, ok := s.ingredients[m.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := rec.Quantity.Add(delta)
	if next.IsNegative() {
		return &store.StockError{IngredientID: m.ID, Available: rec.Quantity, Requested: m.Amount}
	}
	rec.Quantity = next
	s.ingredients[m.ID] = rec
	return nil
}

// nameTaken reports whether another ingredient has name, ignoring case
func (s *state) nameTaken(name, exceptID string) bool {
	name = strings.TrimSpace(name)
	for id, ing := range s.ingredients {
		if id != exceptID && strings.EqualFold(strings.TrimSpace(ing.Name), name) {
			return true
		}
	}
	return false
}

func (s *state) exists(c models.Collection, id string) bool {
	var ok bool
	switch c {
	case models.CollectionIngredients:
		_, ok = s.ingredients[id]
	case models.CollectionMenuItems:
		_, ok = s.menuItems[id]
	case models.CollectionOrders:
		_, ok = s.orders[id]
	case models.CollectionTransactions:
		_, ok = s.transactions[id]
	}
	return ok
}

// Subscribe registers fn for change notifications
func (s *Store) Subscribe(ctx context.Context, fn func(models.Change)) (func(), error) {
	return s.bus.Subscribe(ctx, fn)
}

// MenuItems returns menu items in creation order
func (s *Store) MenuItems(ctx context.Context) ([]models.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.order[models.CollectionMenuItems]
	out := make([]models.MenuItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMenuItem(s.state.menuItems[id]))
	}
	return out, nil
}

// Ingredients returns ingredients in creation order
func (s *Store) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.order[models.CollectionIngredients]
	out := make([]models.Ingredient, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.state.ingredients[id])
	}
	return out, nil
}

// Orders returns orders in creation order
func (s *Store) Orders(ctx context.Context) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.order[models.CollectionOrders]
	out := make([]models.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneOrder(s.state.orders[id]))
	}
	return out, nil
}

// Transactions returns transactions in creation order
func (s *Store) Transactions(ctx context.Context) ([]models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.state.order[models.CollectionTransactions]
	out := make([]models.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.state.transactions[id])
	}
	return out, nil
}

var _ store.DataService = (*Store)(nil)
