package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLoad means the catalog is still loading or its subscription failed
	ErrLoad = errors.New("catalog unavailable")
	// ErrInvalidInput covers user input rejected before any mutation is attempted
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientStock means at least one cart line exceeds what the stock allows
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrMutationFailed means the data service rejected or failed a batch
	ErrMutationFailed = errors.New("mutation failed")
)

// ErrCatalogLoading is the cause carried by a LoadError while the first snapshot is pending
var ErrCatalogLoading = errors.New("catalog is still loading")

// LoadError wraps the reason the catalog cannot be used
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return ErrLoad.Error()
	}
	return fmt.Sprintf("%s: %v", ErrLoad, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// ValidationError reports a rejected input field
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// IsValidation reports whether err was caused by bad input
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// Shortage describes one cart line the stock cannot cover
type Shortage struct {
	MenuItemID string `json:"menuItemId"`
	Name       string `json:"name"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available"`
}

// InsufficientStockError lists every offending cart line
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	if len(e.Shortages) == 0 {
		return ErrInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		name := s.Name
		if name == "" {
			name = s.MenuItemID
		}
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", name, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock, strings.Join(parts, ", "))
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// MutationError wraps a data-service failure
type MutationError struct {
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMutationFailed, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

func (e *MutationError) Is(target error) bool { return target == ErrMutationFailed }
