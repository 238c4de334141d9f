package loadtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/cart"
	"github.com/kieracarman/dripos-storefront/internal/catalog"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/order"
	"github.com/kieracarman/dripos-storefront/internal/store/memory"
)

func TestRunTestNeverOversells(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := memory.New(nil)
	var b batch.Builder
	beans := b.Create(models.CollectionIngredients, models.Ingredient{Name: "Beans", Quantity: decimal.NewFromInt(40)}.Fields())
	b.Create(models.CollectionMenuItems, models.Fields{
		models.FieldName:                "Espresso",
		models.FieldPrice:               decimal.RequireFromString("3.50"),
		models.FieldRequiredIngredients: []batch.RecipeLine{{Ingredient: beans, Quantity: decimal.NewFromInt(1)}},
	})
	b.Create(models.CollectionMenuItems, models.Fields{
		models.FieldName:                "Doppio",
		models.FieldPrice:               decimal.RequireFromString("4.25"),
		models.FieldRequiredIngredients: []batch.RecipeLine{{Ingredient: beans, Quantity: decimal.NewFromInt(2)}},
	})
	compiled, err := b.Compile(nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), compiled))

	cache := catalog.New(s)
	syncer := catalog.NewSyncer(cache, s, nil)
	syncer.SetResyncInterval(0)
	require.NoError(t, syncer.Start())
	defer syncer.Stop()

	lt := NewLoadTester(order.NewCommitter(cache, s), cache)
	lt.SetConcurrency(16)
	lt.SetDuration(300 * time.Millisecond)
	res := lt.RunTest(context.Background())

	assert.Equal(t, res.RequestCount, res.SuccessCount+res.RejectedCount+res.SoldOutCount+res.FailureCount)
	assert.Zero(t, res.FailureCount)
	assert.Positive(t, res.SuccessCount)

	ingredients, err := s.Ingredients(context.Background())
	require.NoError(t, err)
	remaining := ingredients[0].Quantity
	assert.False(t, remaining.IsNegative())

	txs, err := s.Transactions(context.Background())
	require.NoError(t, err)
	consumed := decimal.Zero
	for _, tx := range txs {
		consumed = consumed.Sub(tx.QuantityChanged)
	}
	assert.True(t, decimal.NewFromInt(40).Sub(consumed).Equal(remaining),
		"consumed %s, remaining %s", consumed, remaining)

	orders, err := s.Orders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, res.SuccessCount)
}

type stubSubmitter struct {
	err error
}

func (s stubSubmitter) Submit(context.Context, *cart.Cart) (models.Order, error) {
	return models.Order{}, s.err
}

type stubCatalog struct{}

func (stubCatalog) Ready() (models.Catalog, error) {
	return models.Catalog{
		MenuItems: []models.MenuItem{{
			ID:                  "espresso",
			Name:                "Espresso",
			RequiredIngredients: []models.RecipeLine{{IngredientID: "beans", Quantity: decimal.NewFromInt(1)}},
		}},
		Ingredients: []models.Ingredient{{ID: "beans", Name: "Beans", Quantity: decimal.NewFromInt(100)}},
	}, nil
}

func TestRunTestClassifiesFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		count func(*LoadTestResults) int
	}{
		{"committed", nil, func(r *LoadTestResults) int { return r.SuccessCount }},
		{"stock", &models.InsufficientStockError{}, func(r *LoadTestResults) int { return r.RejectedCount }},
		{"mutation", &models.MutationError{Err: errors.New("boom")}, func(r *LoadTestResults) int { return r.FailureCount }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lt := NewLoadTester(stubSubmitter{err: tt.err}, stubCatalog{})
			lt.SetConcurrency(2)
			lt.SetDuration(20 * time.Millisecond)
			res := lt.RunTest(context.Background())

			require.Positive(t, res.RequestCount)
			assert.Equal(t, res.RequestCount, tt.count(res))
		})
	}
}
