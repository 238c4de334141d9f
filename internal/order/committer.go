// Package order turns a cart into a committed order: it re-validates the
// cart against the latest catalog, prices it, and applies the order, the
// ingredient decrements and their audit transactions as one batch.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/cart"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

// CatalogReader yields the catalog snapshot if it is usable
type CatalogReader interface {
	Ready() (models.Catalog, error)
}

// Publisher announces committed orders
type Publisher interface {
	PublishOrderCommitted(ctx context.Context, order models.Order) error
}

// Store is what the committer needs from the data service: applying the
// order batch and re-reading stock when the batch is rejected
type Store interface {
	store.Applier
	Ingredients(ctx context.Context) ([]models.Ingredient, error)
}

// Option configures a Committer
type Option func(*Committer)

// WithPublisher announces every committed order on p
func WithPublisher(p Publisher) Option {
	return func(c *Committer) { c.publisher = p }
}

// WithClock overrides the commit timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Committer) { c.now = now }
}

// WithIDs overrides the id generator used when compiling batches
func WithIDs(newID func() string) Option {
	return func(c *Committer) { c.newID = newID }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Committer) { c.logger = l }
}

// Committer submits carts
type Committer struct {
	catalog   CatalogReader
	store     Store
	publisher Publisher
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// NewCommitter creates a committer writing to s
func NewCommitter(catalog CatalogReader, s Store, opts ...Option) *Committer {
	c := &Committer{
		catalog: catalog,
		store:   s,
		now:     time.Now,
		newID:   batch.NewID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit commits the cart. On success the committed quantities are removed
// from the cart and the order returned. On any failure the cart is left as it
// was and nothing is retried. A cart can only be submitted once at a time.
func (c *Committer) Submit(ctx context.Context, crt *cart.Cart) (models.Order, error) {
	if err := ctx.Err(); err != nil {
		return models.Order{}, err
	}

	catalog, err := c.catalog.Ready()
	if err != nil {
		return models.Order{}, err
	}

	lines, done, err := crt.Checkout()
	if err != nil {
		return models.Order{}, err
	}
	var committed []models.OrderLine
	defer func() { done(committed) }()

	if len(lines) == 0 {
		return models.Order{}, models.NewValidationError(models.FieldItems, "cart is empty")
	}

	if err := Validate(catalog, lines); err != nil {
		c.logger.Info("order rejected", "reason", err)
		return models.Order{}, err
	}

	total := Total(catalog, lines)
	now := c.now().UTC()
	b, orderRef := BuildBatch(catalog, lines, total, now)

	compiled, err := b.Compile(c.newID)
	if err != nil {
		return models.Order{}, &models.MutationError{Err: fmt.Errorf("failed to compile order batch: %w", err)}
	}

	if err := c.store.Apply(ctx, compiled); err != nil {
		var stockErr *store.StockError
		if errors.As(err, &stockErr) {
			c.logger.Info("order rejected by store", "ingredient", stockErr.IngredientID, "error", err)
			return models.Order{}, c.rejected(ctx, catalog, lines, stockErr)
		}
		c.logger.Error("order batch failed", "mutations", len(compiled.Mutations), "error", err)
		return models.Order{}, &models.MutationError{Err: err}
	}

	orderID, _ := compiled.CreatedID(orderRef)
	order := models.Order{
		ID:          orderID,
		Items:       lines,
		Status:      models.OrderCompleted,
		CreatedAt:   now,
		TotalAmount: total,
	}
	committed = lines
	done(committed)
	c.logger.Info("order committed", "order_id", order.ID, "total", order.TotalAmount.StringFixed(2), "lines", len(lines))

	if c.publisher != nil {
		if err := c.publisher.PublishOrderCommitted(ctx, order); err != nil {
			c.logger.Warn("order event publish failed", "order_id", order.ID, "error", err)
		}
	}
	return order, nil
}

// rejected re-validates lines against the stock the data service holds now.
// The quantity carried by the store error is taken mid-batch, after this
// order's own earlier decrements, so it cannot be reported as availability.
func (c *Committer) rejected(ctx context.Context, catalog models.Catalog, lines []models.OrderLine, stockErr *store.StockError) error {
	ingredients, err := c.store.Ingredients(ctx)
	if err != nil {
		return &models.MutationError{Err: errors.Join(stockErr, fmt.Errorf("failed to re-read stock: %w", err))}
	}
	fresh := models.Catalog{MenuItems: catalog.MenuItems, Ingredients: ingredients}
	if err := Validate(fresh, lines); err != nil {
		return err
	}
	// stock was restocked between the rejection and the re-read
	return &models.InsufficientStockError{Shortages: shortagesFor(fresh, lines, stockErr.IngredientID)}
}
