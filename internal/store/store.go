// Package store defines the data-service contract shared by the memory and
// PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateID     = errors.New("record already exists")
	ErrDuplicateName   = errors.New("ingredient name already exists")
	ErrWouldGoNegative = errors.New("stock would go negative")
	ErrUnsupported     = errors.New("unsupported mutation")
)

// StockError is returned when a decrement would take an ingredient below zero.
// The whole batch is rejected.
type StockError struct {
	IngredientID string
	Available    decimal.Decimal
	Requested    decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: ingredient %s has %s, needs %s", ErrWouldGoNegative, e.IngredientID, e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool { return target == ErrWouldGoNegative }

// Reader is the query side of a data service
type Reader interface {
	MenuItems(ctx context.Context) ([]models.MenuItem, error)
	Ingredients(ctx context.Context) ([]models.Ingredient, error)
}

// Subscriber re-delivers change notifications until cancel is called
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(models.Change)) (cancel func(), err error)
}

// Applier applies a compiled batch all-or-nothing
type Applier interface {
	Apply(ctx context.Context, b batch.Batch) error
}

// History lists committed orders and their ingredient movements
type History interface {
	Orders(ctx context.Context) ([]models.Order, error)
	Transactions(ctx context.Context) ([]models.Transaction, error)
}

// DataService is everything the storefront needs from the backing store
type DataService interface {
	Reader
	Subscriber
	Applier
	History
}
