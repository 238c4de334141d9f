package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Fields is the attribute payload of a create or update operation, keyed by field name
type Fields map[string]any

// Field names shared by the batch builder and every store implementation.
const (
	FieldName                = "name"
	FieldQuantity            = "quantity"
	FieldUnit                = "unit"
	FieldDescription         = "description"
	FieldPrice               = "price"
	FieldImage               = "image"
	FieldRequiredIngredients = "requiredIngredients"
	FieldItems               = "items"
	FieldStatus              = "status"
	FieldCreatedAt           = "createdAt"
	FieldTotalAmount         = "totalAmount"
	FieldOrderID             = "orderId"
	FieldIngredientID        = "ingredientId"
	FieldQuantityChanged     = "quantityChanged"
	FieldTimestamp           = "timestamp"
)

// ErrUnknownField is returned when a payload names a field the collection does not have
var ErrUnknownField = errors.New("unknown field")

// ErrFieldType is returned when a payload value cannot be converted to the field's type
var ErrFieldType = errors.New("field has wrong type")

// Fields encodes the ingredient without its id
func (i Ingredient) Fields() Fields {
	f := Fields{FieldName: i.Name, FieldQuantity: i.Quantity}
	if i.Unit != "" {
		f[FieldUnit] = i.Unit
	}
	return f
}

// ApplyFields overwrites the named attributes
func (i *Ingredient) ApplyFields(f Fields) error {
	for key, value := range f {
		var err error
		switch key {
		case FieldName:
			i.Name, err = asString(key, value)
		case FieldQuantity:
			i.Quantity, err = asDecimal(key, value)
		case FieldUnit:
			i.Unit, err = asString(key, value)
		default:
			err = fmt.Errorf("%w %q on %s", ErrUnknownField, key, CollectionIngredients)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the ingredient invariants
func (i Ingredient) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return NewValidationError(FieldName, "name is required")
	}
	if i.Quantity.IsNegative() {
		return NewValidationError(FieldQuantity, "quantity cannot be negative")
	}
	return nil
}

// Fields encodes the menu item without its id
func (m MenuItem) Fields() Fields {
	return Fields{
		FieldName:                m.Name,
		FieldDescription:         m.Description,
		FieldPrice:               m.Price,
		FieldImage:               m.Image,
		FieldRequiredIngredients: append([]RecipeLine(nil), m.RequiredIngredients...),
	}
}

// ApplyFields overwrites the named attributes
func (m *MenuItem) ApplyFields(f Fields) error {
	for key, value := range f {
		var err error
		switch key {
		case FieldName:
			m.Name, err = asString(key, value)
		case FieldDescription:
			m.Description, err = asString(key, value)
		case FieldPrice:
			m.Price, err = asDecimal(key, value)
		case FieldImage:
			m.Image, err = asString(key, value)
		case FieldRequiredIngredients:
			lines, ok := value.([]RecipeLine)
			if !ok {
				err = fmt.Errorf("%w: %s is %T", ErrFieldType, key, value)
			}
			m.RequiredIngredients = append([]RecipeLine(nil), lines...)
		default:
			err = fmt.Errorf("%w %q on %s", ErrUnknownField, key, CollectionMenuItems)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the menu item invariants
func (m MenuItem) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return NewValidationError(FieldName, "name is required")
	}
	if m.Price.IsNegative() {
		return NewValidationError(FieldPrice, "price cannot be negative")
	}
	for _, line := range m.RequiredIngredients {
		if line.IngredientID == "" {
			return NewValidationError(FieldRequiredIngredients, "recipe line is missing an ingredient")
		}
		if !line.Quantity.IsPositive() {
			return NewValidationError(FieldRequiredIngredients, "recipe quantities must be positive")
		}
	}
	return nil
}

// Fields encodes the order without its id
func (o Order) Fields() Fields {
	return Fields{
		FieldItems:       append([]OrderLine(nil), o.Items...),
		FieldStatus:      o.Status,
		FieldCreatedAt:   o.CreatedAt,
		FieldTotalAmount: o.TotalAmount,
	}
}

// ApplyFields overwrites the named attributes
func (o *Order) ApplyFields(f Fields) error {
	for key, value := range f {
		var err error
		switch key {
		case FieldItems:
			lines, ok := value.([]OrderLine)
			if !ok {
				err = fmt.Errorf("%w: %s is %T", ErrFieldType, key, value)
			}
			o.Items = append([]OrderLine(nil), lines...)
		case FieldStatus:
			var s string
			s, err = asString(key, value)
			o.Status = OrderStatus(s)
		case FieldCreatedAt:
			o.CreatedAt, err = asTime(key, value)
		case FieldTotalAmount:
			o.TotalAmount, err = asDecimal(key, value)
		default:
			err = fmt.Errorf("%w %q on %s", ErrUnknownField, key, CollectionOrders)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the order invariants
func (o Order) Validate() error {
	if len(o.Items) == 0 {
		return NewValidationError(FieldItems, "order has no items")
	}
	for _, line := range o.Items {
		if line.MenuItemID == "" || line.Quantity <= 0 {
			return NewValidationError(FieldItems, "order lines need a menu item and a positive quantity")
		}
	}
	if !o.Status.Valid() {
		return NewValidationError(FieldStatus, fmt.Sprintf("unknown status %q", o.Status))
	}
	if o.TotalAmount.IsNegative() {
		return NewValidationError(FieldTotalAmount, "total cannot be negative")
	}
	return nil
}

// Fields encodes the transaction without its id
func (t Transaction) Fields() Fields {
	return Fields{
		FieldOrderID:         t.OrderID,
		FieldIngredientID:    t.IngredientID,
		FieldQuantityChanged: t.QuantityChanged,
		FieldTimestamp:       t.Timestamp,
	}
}

// ApplyFields overwrites the named attributes
func (t *Transaction) ApplyFields(f Fields) error {
	for key, value := range f {
		var err error
		switch key {
		case FieldOrderID:
			t.OrderID, err = asString(key, value)
		case FieldIngredientID:
			t.IngredientID, err = asString(key, value)
		case FieldQuantityChanged:
			t.QuantityChanged, err = asDecimal(key, value)
		case FieldTimestamp:
			t.Timestamp, err = asTime(key, value)
		default:
			err = fmt.Errorf("%w %q on %s", ErrUnknownField, key, CollectionTransactions)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the transaction invariants
func (t Transaction) Validate() error {
	if t.OrderID == "" || t.IngredientID == "" {
		return NewValidationError(FieldOrderID, "transaction must reference an order and an ingredient")
	}
	return nil
}

func asString(key string, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case OrderStatus:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("%w: %s is %T", ErrFieldType, key, value)
}

func asDecimal(key string, value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrFieldType, key, err)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s is %T", ErrFieldType, key, value)
}

func asTime(key string, value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrFieldType, key, err)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s is %T", ErrFieldType, key, value)
}
