// Package batch builds ordered mutation batches whose operations may refer
// to records created earlier in the same batch.
package batch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

// Kind is the type of a single mutation
type Kind string

const (
	KindCreate    Kind = "create"
	KindUpdate    Kind = "update"
	KindIncrement Kind = "increment"
	KindDecrement Kind = "decrement"
)

var (
	ErrUnresolvedRef = errors.New("reference to a record not created in this batch")
	ErrInvalidOp     = errors.New("invalid batch operation")
)

// Ref points at a record: either one that already exists, or one created
// earlier in the same batch and not yet assigned an id.
type Ref struct {
	id          string
	placeholder int
}

// Existing refers to a stored record by id
func Existing(id string) Ref {
	return Ref{id: id}
}

// IsPlaceholder reports whether the ref waits for an id from Compile
func (r Ref) IsPlaceholder() bool { return r.placeholder > 0 }

// ID returns the literal id, empty for placeholders
func (r Ref) ID() string { return r.id }

func (r Ref) String() string {
	if r.IsPlaceholder() {
		return fmt.Sprintf("$%d", r.placeholder)
	}
	return r.id
}

// RecipeLine is a recipe entry whose ingredient may be created in the same
// batch. A []RecipeLine field value compiles to []models.RecipeLine.
type RecipeLine struct {
	Ingredient Ref
	Quantity   decimal.Decimal
}

// Op is one uncompiled operation
type Op struct {
	Kind       Kind
	Collection models.Collection
	Target     Ref
	Field      string
	Amount     decimal.Decimal
	Fields     models.Fields
}

// Builder accumulates operations in order. The zero value is ready to use.
type Builder struct {
	ops  []Op
	next int
}

// Create appends a create and returns the placeholder for the new record.
// Ref values inside fields are substituted at compile time.
func (b *Builder) Create(c models.Collection, fields models.Fields) Ref {
	b.next++
	ref := Ref{placeholder: b.next}
	b.ops = append(b.ops, Op{Kind: KindCreate, Collection: c, Target: ref, Fields: fields})
	return ref
}

// Update appends a partial overwrite of an existing record
func (b *Builder) Update(c models.Collection, target Ref, fields models.Fields) {
	b.ops = append(b.ops, Op{Kind: KindUpdate, Collection: c, Target: target, Fields: fields})
}

// Increment appends an atomic addition to a numeric field
func (b *Builder) Increment(c models.Collection, target Ref, field string, amount decimal.Decimal) {
	b.ops = append(b.ops, Op{Kind: KindIncrement, Collection: c, Target: target, Field: field, Amount: amount})
}

// Decrement appends an atomic subtraction from a numeric field
func (b *Builder) Decrement(c models.Collection, target Ref, field string, amount decimal.Decimal) {
	b.ops = append(b.ops, Op{Kind: KindDecrement, Collection: c, Target: target, Field: field, Amount: amount})
}

// Len returns the number of operations added so far
func (b *Builder) Len() int { return len(b.ops) }

// Ops returns a copy of the uncompiled operations
func (b *Builder) Ops() []Op {
	return append([]Op(nil), b.ops...)
}

// Mutation is a compiled operation with every reference resolved
type Mutation struct {
	Kind       Kind              `json:"kind"`
	Collection models.Collection `json:"collection"`
	ID         string            `json:"id"`
	Field      string            `json:"field,omitempty"`
	Amount     decimal.Decimal   `json:"amount,omitempty"`
	Fields     models.Fields     `json:"fields,omitempty"`
}

// Batch is the all-or-nothing unit handed to a data service
type Batch struct {
	Mutations []Mutation `json:"mutations"`
	created   map[int]string
}

// CreatedID returns the id Compile assigned to a placeholder
func (b Batch) CreatedID(ref Ref) (string, bool) {
	if !ref.IsPlaceholder() {
		return ref.id, ref.id != ""
	}
	id, ok := b.created[ref.placeholder]
	return id, ok
}

// Collections lists the distinct collections touched, in first-seen order
func (b Batch) Collections() []models.Collection {
	var out []models.Collection
	seen := make(map[models.Collection]bool)
	for _, m := range b.Mutations {
		if !seen[m.Collection] {
			seen[m.Collection] = true
			out = append(out, m.Collection)
		}
	}
	return out
}

// NewID is the default id generator
func NewID() string {
	return uuid.NewString()
}

// Compile resolves the batch in two passes: every create gets an id first,
// then every placeholder in targets and field values is replaced.
func (b *Builder) Compile(newID func() string) (Batch, error) {
	if newID == nil {
		newID = NewID
	}

	created := make(map[int]string)
	for _, op := range b.ops {
		if op.Kind == KindCreate {
			created[op.Target.placeholder] = newID()
		}
	}

	resolve := func(r Ref) (string, error) {
		if !r.IsPlaceholder() {
			if r.id == "" {
				return "", fmt.Errorf("%w: empty id", ErrInvalidOp)
			}
			return r.id, nil
		}
		id, ok := created[r.placeholder]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnresolvedRef, r)
		}
		return id, nil
	}

	out := Batch{Mutations: make([]Mutation, 0, len(b.ops)), created: created}
	for i, op := range b.ops {
		if !op.Collection.Valid() {
			return Batch{}, fmt.Errorf("%w: op %d: unknown collection %q", ErrInvalidOp, i, op.Collection)
		}
		id, err := resolve(op.Target)
		if err != nil {
			return Batch{}, fmt.Errorf("op %d: %w", i, err)
		}
		m := Mutation{Kind: op.Kind, Collection: op.Collection, ID: id}

		switch op.Kind {
		case KindCreate, KindUpdate:
			fields := make(models.Fields, len(op.Fields))
			for key, value := range op.Fields {
				switch v := value.(type) {
				case Ref:
					if value, err = resolve(v); err != nil {
						return Batch{}, fmt.Errorf("op %d field %s: %w", i, key, err)
					}
				case []RecipeLine:
					lines := make([]models.RecipeLine, 0, len(v))
					for _, line := range v {
						ingID, err := resolve(line.Ingredient)
						if err != nil {
							return Batch{}, fmt.Errorf("op %d field %s: %w", i, key, err)
						}
						lines = append(lines, models.RecipeLine{IngredientID: ingID, Quantity: line.Quantity})
					}
					value = lines
				}
				fields[key] = value
			}
			m.Fields = fields
		case KindIncrement, KindDecrement:
			if op.Field == "" {
				return Batch{}, fmt.Errorf("%w: op %d: no field", ErrInvalidOp, i)
			}
			if op.Amount.IsNegative() {
				return Batch{}, fmt.Errorf("%w: op %d: negative amount %s", ErrInvalidOp, i, op.Amount)
			}
			m.Field = op.Field
			m.Amount = op.Amount
		default:
			return Batch{}, fmt.Errorf("%w: op %d: unknown kind %q", ErrInvalidOp, i, op.Kind)
		}
		out.Mutations = append(out.Mutations, m)
	}
	return out, nil
}
