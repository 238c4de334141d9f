// Package postgres is the PostgreSQL data service. Every batch runs in one
// transaction and committed changes are announced on a notify.Bus.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/notify"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

const (
	uniqueViolation     = "23505"
	ingredientNameIndex = "idx_ingredients_name"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL data service
type Store struct {
	pool   *pgxpool.Pool
	bus    notify.Bus
	logger *slog.Logger
}

// Open connects to connString and verifies the connection
func Open(ctx context.Context, connString string, bus notify.Bus, logger *slog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = notify.NewLocal(logger)
	}
	return &Store{pool: pool, bus: bus, logger: logger}, nil
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ingredients (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			quantity NUMERIC NOT NULL CHECK (quantity >= 0),
			unit TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ingredients_seq ON ingredients(seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + ingredientNameIndex + ` ON ingredients (lower(btrim(name)))`,

		`CREATE TABLE IF NOT EXISTS menu_items (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC NOT NULL CHECK (price >= 0),
			image TEXT NOT NULL DEFAULT '',
			required_ingredients JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_menu_items_seq ON menu_items(seq)`,

		`CREATE TABLE IF NOT EXISTS orders (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			items JSONB NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			total_amount NUMERIC NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_seq ON orders(seq)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			ingredient_id TEXT NOT NULL REFERENCES ingredients(id),
			quantity_changed NUMERIC NOT NULL,
			occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_order_id ON transactions(order_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// Apply runs the batch in a single transaction and publishes the change
// after commit. A failed publish is logged; the batch stays committed.
func (s *Store) Apply(ctx context.Context, b batch.Batch) error {
	if len(b.Mutations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, m := range b.Mutations {
		if err := apply(ctx, tx, m); err != nil {
			return fmt.Errorf("mutation %d (%s %s/%s): %w", i, m.Kind, m.Collection, m.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	change := models.Change{Collections: b.Collections()}
	if err := s.bus.Publish(ctx, change); err != nil {
		s.logger.Warn("change notification failed", "collections", change.Collections, "error", err)
	}
	return nil
}

func apply(ctx context.Context, q querier, m batch.Mutation) error {
	switch m.Kind {
	case batch.KindCreate:
		return create(ctx, q, m)
	case batch.KindUpdate:
		return update(ctx, q, m)
	case batch.KindIncrement:
		return increment(ctx, q, m)
	case batch.KindDecrement:
		return decrement(ctx, q, m)
	}
	return fmt.Errorf("%w: kind %q", store.ErrUnsupported, m.Kind)
}

func create(ctx context.Context, q querier, m batch.Mutation) error {
	var err error
	switch m.Collection {
	case models.CollectionIngredients:
		rec := models.Ingredient{ID: m.ID}
		if err = decode(&rec, m.Fields); err != nil {
			return err
		}
		err = insertIngredient(ctx, q, rec)
	case models.CollectionMenuItems:
		rec := models.MenuItem{ID: m.ID}
		if err = decode(&rec, m.Fields); err != nil {
			return err
		}
		err = insertMenuItem(ctx, q, rec)
	case models.CollectionOrders:
		rec := models.Order{ID: m.ID}
		if err = decode(&rec, m.Fields); err != nil {
			return err
		}
		err = insertOrder(ctx, q, rec)
	case models.CollectionTransactions:
		rec := models.Transaction{ID: m.ID}
		if err = decode(&rec, m.Fields); err != nil {
			return err
		}
		err = insertTransaction(ctx, q, rec)
	default:
		return fmt.Errorf("%w: collection %q", store.ErrUnsupported, m.Collection)
	}

	return uniqueError(err)
}

// uniqueError maps unique violations onto the store's duplicate errors
func uniqueError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if pgErr.ConstraintName == ingredientNameIndex {
		return store.ErrDuplicateName
	}
	return store.ErrDuplicateID
}

func update(ctx context.Context, q querier, m batch.Mutation) error {
	switch m.Collection {
	case models.CollectionIngredients:
		rec, err := ingredientForUpdate(ctx, q, m.ID)
		if err != nil {
			return err
		}
		if err := decode(&rec, m.Fields); err != nil {
			return err
		}
		_, err = q.Exec(ctx,
			`UPDATE ingredients SET name = $1, quantity = $2::numeric, unit = $3 WHERE id = $4`,
			rec.Name, rec.Quantity.String(), rec.Unit, rec.ID)
		return uniqueError(err)
	case models.CollectionOrders:
		rec, err := orderForUpdate(ctx, q, m.ID)
		if err != nil {
			return err
		}
		if err := decode(&rec, m.Fields); err != nil {
			return err
		}
		items, err := encodeJSON(rec.Items)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx,
			`UPDATE orders SET items = $1::jsonb, status = $2, created_at = $3, total_amount = $4::numeric WHERE id = $5`,
			items, string(rec.Status), rec.CreatedAt, rec.TotalAmount.String(), rec.ID)
		return err
	}
	return fmt.Errorf("%w: update on %s", store.ErrUnsupported, m.Collection)
}

func increment(ctx context.Context, q querier, m batch.Mutation) error {
	if err := checkQuantityField(m); err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE ingredients SET quantity = quantity + $1::numeric WHERE id = $2`,
		m.Amount.String(), m.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// decrement only succeeds while enough stock remains, so concurrent
// batches can never drive a quantity below zero.
func decrement(ctx context.Context, q querier, m batch.Mutation) error {
	if err := checkQuantityField(m); err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE ingredients SET quantity = quantity - $1::numeric WHERE id = $2 AND quantity >= $1::numeric`,
		m.Amount.String(), m.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var available string
	err = q.QueryRow(ctx, `SELECT quantity::text FROM ingredients WHERE id = $1`, m.ID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	qty, err := parseNumeric(available)
	if err != nil {
		return err
	}
	return &store.StockError{IngredientID: m.ID, Available: qty, Requested: m.Amount}
}

func checkQuantityField(m batch.Mutation) error {
	if m.Collection != models.CollectionIngredients || m.Field != models.FieldQuantity {
		return fmt.Errorf("%w: %s on %s.%s", store.ErrUnsupported, m.Kind, m.Collection, m.Field)
	}
	return nil
}

// Subscribe delegates to the change bus
func (s *Store) Subscribe(ctx context.Context, fn func(models.Change)) (func(), error) {
	return s.bus.Subscribe(ctx, fn)
}

// MenuItems returns menu items in creation order
func (s *Store) MenuItems(ctx context.Context) ([]models.MenuItem, error) {
	return listMenuItems(ctx, s.pool)
}

// Ingredients returns ingredients in creation order
func (s *Store) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	return listIngredients(ctx, s.pool)
}

// Orders returns orders in creation order
func (s *Store) Orders(ctx context.Context) ([]models.Order, error) {
	return listOrders(ctx, s.pool)
}

// Transactions returns transactions in creation order
func (s *Store) Transactions(ctx context.Context) ([]models.Transaction, error) {
	return listTransactions(ctx, s.pool)
}

var _ store.DataService = (*Store)(nil)
