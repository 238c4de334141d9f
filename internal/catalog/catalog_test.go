package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/store/memory"
)

type fakeReader struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
	gate  chan struct{}
	ings  []models.Ingredient
}

func (f *fakeReader) MenuItems(ctx context.Context) ([]models.MenuItem, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return nil, f.err
}

func (f *fakeReader) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ings, f.err
}

func (f *fakeReader) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func addIngredient(t *testing.T, s *memory.Store, name string, qty int64) {
	t.Helper()
	var b batch.Builder
	b.Create(models.CollectionIngredients, models.Ingredient{Name: name, Quantity: decimal.NewFromInt(qty)}.Fields())
	compiled, err := b.Compile(nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), compiled))
}

func TestCacheStartsLoading(t *testing.T) {
	c := New(&fakeReader{})
	assert.True(t, c.Current().IsLoading)

	_, err := c.Ready()
	require.ErrorIs(t, err, models.ErrLoad)
	assert.ErrorIs(t, err, models.ErrCatalogLoading)
}

func TestCacheRefreshAndFailure(t *testing.T) {
	src := &fakeReader{ings: []models.Ingredient{{ID: "eel", Name: "Eel", Quantity: decimal.NewFromInt(2)}}}
	c := New(src)

	require.NoError(t, c.Refresh(context.Background()))
	data, err := c.Ready()
	require.NoError(t, err)
	require.Len(t, data.Ingredients, 1)

	src.setErr(errors.New("connection reset"))
	err = c.Refresh(context.Background())
	require.ErrorIs(t, err, models.ErrLoad)

	data, err = c.Ready()
	require.ErrorIs(t, err, models.ErrLoad)
	assert.Len(t, data.Ingredients, 1, "last good data stays visible")

	src.setErr(nil)
	require.NoError(t, c.Refresh(context.Background()))
	_, err = c.Ready()
	assert.NoError(t, err)
}

func TestCacheCollapsesConcurrentRefreshes(t *testing.T) {
	src := &fakeReader{gate: make(chan struct{})}
	c := New(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
	}
	require.Eventually(t, func() bool {
		return src.calls.Load() >= 1 && c.requested.Load() == 10
	}, time.Second, time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Less(t, int(src.calls.Load()), 10)
	assert.False(t, c.Current().IsLoading)
}

func TestWatchDeliversLatestAndCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(&fakeReader{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Watch(ctx)

	first := <-ch
	assert.True(t, first.IsLoading)

	require.NoError(t, c.Refresh(context.Background()))
	require.NoError(t, c.Refresh(context.Background()))

	latest := <-ch
	assert.False(t, latest.IsLoading)
	assert.Equal(t, c.Current().Version, latest.Version)

	cancel()
	for range ch {
	}
	assert.Equal(t, 0, c.Watchers())
}

func TestStateJSON(t *testing.T) {
	s := State{Err: &models.LoadError{Err: errors.New("boom")}}
	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["isLoading"])
	assert.Contains(t, decoded["error"], "boom")
}

type countingInvalidator struct {
	n atomic.Int32
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.n.Add(1)
	return nil
}

func TestSyncerFollowsStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := memory.New(nil)
	addIngredient(t, s, "Eel", 2)

	c := New(s)
	inv := &countingInvalidator{}
	syncer := NewSyncer(c, s, nil)
	syncer.SetResyncInterval(0)
	syncer.SetMenuCache(inv)
	require.NoError(t, syncer.Start())
	defer syncer.Stop()

	data, err := c.Ready()
	require.NoError(t, err)
	require.Len(t, data.Ingredients, 1)

	addIngredient(t, s, "Rice", 10)
	assert.Eventually(t, func() bool {
		return len(c.Current().Data.Ingredients) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), inv.n.Load())

	var b batch.Builder
	b.Create(models.CollectionMenuItems, models.MenuItem{Name: "Bowl", Price: decimal.NewFromInt(10)}.Fields())
	compiled, err := b.Compile(nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), compiled))

	assert.Eventually(t, func() bool {
		return len(c.Current().Data.MenuItems) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), inv.n.Load())
}

type failingSubscriber struct{}

func (failingSubscriber) Subscribe(context.Context, func(models.Change)) (func(), error) {
	return nil, errors.New("permission denied")
}

func TestSyncerSubscriptionFailureMarksCatalog(t *testing.T) {
	c := New(&fakeReader{})
	syncer := NewSyncer(c, failingSubscriber{}, nil)
	require.Error(t, syncer.Start())
	defer syncer.Stop()

	_, err := c.Ready()
	assert.ErrorIs(t, err, models.ErrLoad)
}

func TestSyncerPeriodicResync(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeReader{}
	c := New(src)
	syncer := NewSyncer(c, noopSubscriber{}, nil)
	syncer.SetResyncInterval(10 * time.Millisecond)
	require.NoError(t, syncer.Start())

	assert.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	syncer.Stop()
}

type noopSubscriber struct{}

func (noopSubscriber) Subscribe(context.Context, func(models.Change)) (func(), error) {
	return func() {}, nil
}
