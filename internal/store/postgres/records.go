package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

type record interface {
	ApplyFields(models.Fields) error
	Validate() error
}

func decode(rec record, fields models.Fields) error {
	if err := rec.ApplyFields(fields); err != nil {
		return err
	}
	return rec.Validate()
}

func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return d, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(data), nil
}

func insertIngredient(ctx context.Context, q querier, ing models.Ingredient) error {
	_, err := q.Exec(ctx,
		`INSERT INTO ingredients (id, name, quantity, unit) VALUES ($1, $2, $3::numeric, $4)`,
		ing.ID, ing.Name, ing.Quantity.String(), ing.Unit)
	return err
}

func insertMenuItem(ctx context.Context, q querier, item models.MenuItem) error {
	recipe, err := encodeJSON(item.RequiredIngredients)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO menu_items (id, name, description, price, image, required_ingredients)
		VALUES ($1, $2, $3, $4::numeric, $5, $6::jsonb)`,
		item.ID, item.Name, item.Description, item.Price.String(), item.Image, recipe)
	return err
}

func insertOrder(ctx context.Context, q querier, o models.Order) error {
	items, err := encodeJSON(o.Items)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx,
		`INSERT INTO orders (id, items, status, created_at, total_amount)
		VALUES ($1, $2::jsonb, $3, $4, $5::numeric)`,
		o.ID, items, string(o.Status), o.CreatedAt, o.TotalAmount.String())
	return err
}

func insertTransaction(ctx context.Context, q querier, t models.Transaction) error {
	_, err := q.Exec(ctx,
		`INSERT INTO transactions (id, order_id, ingredient_id, quantity_changed, occurred_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`,
		t.ID, t.OrderID, t.IngredientID, t.QuantityChanged.String(), t.Timestamp)
	return err
}

func scanIngredient(row pgx.Row) (models.Ingredient, error) {
	var ing models.Ingredient
	var qty string
	if err := row.Scan(&ing.ID, &ing.Name, &qty, &ing.Unit); err != nil {
		return models.Ingredient{}, err
	}
	var err error
	ing.Quantity, err = parseNumeric(qty)
	return ing, err
}

func scanMenuItem(row pgx.Row) (models.MenuItem, error) {
	var item models.MenuItem
	var price string
	var recipe []byte
	if err := row.Scan(&item.ID, &item.Name, &item.Description, &price, &item.Image, &recipe); err != nil {
		return models.MenuItem{}, err
	}
	var err error
	if item.Price, err = parseNumeric(price); err != nil {
		return models.MenuItem{}, err
	}
	if err := json.Unmarshal(recipe, &item.RequiredIngredients); err != nil {
		return models.MenuItem{}, fmt.Errorf("failed to decode recipe of %s: %w", item.ID, err)
	}
	return item, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	var items []byte
	var status, total string
	if err := row.Scan(&o.ID, &items, &status, &o.CreatedAt, &total); err != nil {
		return models.Order{}, err
	}
	o.Status = models.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	var err error
	if o.TotalAmount, err = parseNumeric(total); err != nil {
		return models.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return models.Order{}, fmt.Errorf("failed to decode items of %s: %w", o.ID, err)
	}
	return o, nil
}

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	var qty string
	if err := row.Scan(&t.ID, &t.OrderID, &t.IngredientID, &qty, &t.Timestamp); err != nil {
		return models.Transaction{}, err
	}
	t.Timestamp = t.Timestamp.UTC()
	var err error
	t.QuantityChanged, err = parseNumeric(qty)
	return t, err
}

func ingredientForUpdate(ctx context.Context, q querier, id string) (models.Ingredient, error) {
	ing, err := scanIngredient(q.QueryRow(ctx,
		`SELECT id, name, quantity::text, unit FROM ingredients WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ingredient{}, store.ErrNotFound
	}
	return ing, err
}

func orderForUpdate(ctx context.Context, q querier, id string) (models.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx,
		`SELECT id, items, status, created_at, total_amount::text FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, store.ErrNotFound
	}
	return o, err
}

func listIngredients(ctx context.Context, q querier) ([]models.Ingredient, error) {
	rows, err := q.Query(ctx, `SELECT id, name, quantity::text, unit FROM ingredients ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	var out []models.Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func listMenuItems(ctx context.Context, q querier) ([]models.MenuItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, description, price::text, image, required_ingredients FROM menu_items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query menu items: %w", err)
	}
	defer rows.Close()

	var out []models.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func listOrders(ctx context.Context, q querier) ([]models.Order, error) {
	rows, err := q.Query(ctx,
		`SELECT id, items, status, created_at, total_amount::text FROM orders ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func listTransactions(ctx context.Context, q querier) ([]models.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT id, order_id, ingredient_id, quantity_changed::text, occurred_at FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
