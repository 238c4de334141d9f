// Package inventory implements the stock screen: adding ingredients by name
// and seeding starter stock.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

// Starter stock seeded into an empty inventory
const (
	StarterName     = "Eel"
	StarterQuantity = 2
)

// Store is what the service needs from the data service
type Store interface {
	store.Reader
	store.Applier
}

// Result describes what AddIngredient did
type Result struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Added  decimal.Decimal `json:"added"`
	Merged bool            `json:"merged"`
}

// Service adds stock. Adds are serialized in process; the store's unique
// name rule covers writers in other processes.
type Service struct {
	store  Store
	newID  func() string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates an inventory service
func NewService(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, newID: batch.NewID, logger: logger}
}

// ParseQuantity parses a non-negative decimal quantity
func ParseQuantity(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, models.NewValidationError(models.FieldQuantity, "quantity is required")
	}
	qty, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, models.NewValidationError(models.FieldQuantity, fmt.Sprintf("%q is not a number", text))
	}
	if qty.IsNegative() {
		return decimal.Zero, models.NewValidationError(models.FieldQuantity, "quantity cannot be negative")
	}
	return qty, nil
}

// AddIngredient increments an existing ingredient whose name matches
// ignoring case, or creates a new one.
func (s *Service) AddIngredient(ctx context.Context, name, quantityText string) (Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, models.NewValidationError(models.FieldName, "name is required")
	}
	qty, err := ParseQuantity(quantityText)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.add(ctx, name, qty)
	if errors.Is(err, store.ErrDuplicateName) {
		// another process created the name after our read
		result, err = s.add(ctx, name, qty)
	}
	if err != nil {
		return Result{}, err
	}

	s.logger.Info("ingredient stocked", "id", result.ID, "name", result.Name, "added", qty.String(), "merged", result.Merged)
	return result, nil
}

func (s *Service) add(ctx context.Context, name string, qty decimal.Decimal) (Result, error) {
	ingredients, err := s.store.Ingredients(ctx)
	if err != nil {
		return Result{}, &models.LoadError{Err: err}
	}

	var b batch.Builder
	var ref batch.Ref
	result := Result{Name: name, Added: qty}
	existing, found := models.Catalog{Ingredients: ingredients}.IngredientByName(name)
	if found {
		b.Increment(models.CollectionIngredients, batch.Existing(existing.ID), models.FieldQuantity, qty)
		result.ID = existing.ID
		result.Name = existing.Name
		result.Merged = true
	} else {
		ref = b.Create(models.CollectionIngredients, models.Ingredient{Name: name, Quantity: qty}.Fields())
	}

	compiled, err := b.Compile(s.newID)
	if err != nil {
		return Result{}, &models.MutationError{Err: err}
	}
	if err := s.store.Apply(ctx, compiled); err != nil {
		return Result{}, &models.MutationError{Err: err}
	}
	if !found {
		result.ID, _ = compiled.CreatedID(ref)
	}
	return result, nil
}

// EnsureStarter seeds the starter ingredient when the inventory is empty.
// It reports whether anything was created.
func (s *Service) EnsureStarter(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ingredients, err := s.store.Ingredients(ctx)
	if err != nil {
		return false, &models.LoadError{Err: err}
	}
	if len(ingredients) > 0 {
		return false, nil
	}

	var b batch.Builder
	b.Create(models.CollectionIngredients, models.Ingredient{
		Name:     StarterName,
		Quantity: decimal.NewFromInt(StarterQuantity),
	}.Fields())
	compiled, err := b.Compile(s.newID)
	if err != nil {
		return false, &models.MutationError{Err: err}
	}
	if err := s.store.Apply(ctx, compiled); err != nil {
		return false, &models.MutationError{Err: err}
	}
	s.logger.Info("starter stock added", "name", StarterName, "quantity", StarterQuantity)
	return true, nil
}

// List returns every ingredient
func (s *Service) List(ctx context.Context) ([]models.Ingredient, error) {
	ingredients, err := s.store.Ingredients(ctx)
	if err != nil {
		return nil, &models.LoadError{Err: err}
	}
	return ingredients, nil
}
