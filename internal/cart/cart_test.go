package cart

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

func fixedLimits(limits map[string]int) Limit {
	return func(id string) int { return limits[id] }
}

func TestAdjustClamps(t *testing.T) {
	c := New(fixedLimits(map[string]int{"bowl": 2, "roll": 4}))

	assert.Equal(t, 1, c.Adjust("bowl", 1))
	assert.Equal(t, 2, c.Adjust("bowl", 5))
	assert.Equal(t, 2, c.Adjust("bowl", 1))
	assert.Equal(t, 0, c.Adjust("bowl", -10))
	assert.Equal(t, 0, c.Adjust("missing", 3))
	assert.True(t, c.IsEmpty())
}

func TestAdjustSaturates(t *testing.T) {
	c := New(fixedLimits(map[string]int{"roll": 4}))

	assert.Equal(t, 4, c.Adjust("roll", math.MaxInt))
	assert.Equal(t, 4, c.Adjust("roll", math.MaxInt))
	assert.Equal(t, 0, c.Adjust("roll", math.MinInt))
}

func TestLinesSortedAndPositive(t *testing.T) {
	c := New(fixedLimits(map[string]int{"a": 5, "b": 5, "c": 5}))
	c.Adjust("c", 1)
	c.Adjust("a", 2)
	c.Adjust("b", 1)
	c.Adjust("b", -1)

	assert.Equal(t, []models.OrderLine{
		{MenuItemID: "a", Quantity: 2},
		{MenuItemID: "c", Quantity: 1},
	}, c.Lines())

	c.Reset()
	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.Lines())
}

func TestStaleLineIsNotReclamped(t *testing.T) {
	limits := map[string]int{"bowl": 3}
	var mu sync.Mutex
	c := New(func(id string) int {
		mu.Lock()
		defer mu.Unlock()
		return limits[id]
	})
	c.Adjust("bowl", 3)

	mu.Lock()
	limits["bowl"] = 1
	mu.Unlock()

	assert.Equal(t, 3, c.Quantity("bowl"))
	assert.Equal(t, 1, c.Adjust("bowl", 0))
}

func TestAdjustProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		upper := rapid.IntRange(0, 50).Draw(t, "upper")
		c := New(func(string) int { return upper })

		deltas := rapid.SliceOf(rapid.IntRange(-100, 100)).Draw(t, "deltas")
		for _, d := range deltas {
			got := c.Adjust("x", d)
			if got < 0 || got > upper {
				t.Fatalf("quantity %d outside [0, %d]", got, upper)
			}
		}

		// clamping is idempotent
		q := c.Quantity("x")
		if again := c.Adjust("x", 0); again != q {
			t.Fatalf("zero adjust moved %d to %d", q, again)
		}

		if got := c.Adjust("x", math.MaxInt); got != upper {
			t.Fatalf("unbounded increase gave %d, want %d", got, upper)
		}
	})
}

func TestConcurrentAdjust(t *testing.T) {
	c := New(fixedLimits(map[string]int{"roll": 1000}))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				c.Adjust("roll", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, c.Quantity("roll"))
}

func TestSessions(t *testing.T) {
	s := NewSessions(fixedLimits(map[string]int{"bowl": 2}))

	a := s.Get("alice")
	require.Same(t, a, s.Get("alice"))
	a.Adjust("bowl", 1)

	b := s.Get("bob")
	assert.Equal(t, 0, b.Quantity("bowl"))
	assert.Equal(t, 2, s.Len())

	s.Drop("alice")
	assert.Equal(t, 0, s.Get("alice").Quantity("bowl"))
}

func TestCheckoutBlocksSecondCheckout(t *testing.T) {
	c := New(fixedLimits(map[string]int{"bowl": 2}))
	c.Adjust("bowl", 2)

	lines, done, err := c.Checkout()
	require.NoError(t, err)
	assert.Equal(t, []models.OrderLine{{MenuItemID: "bowl", Quantity: 2}}, lines)

	_, _, err = c.Checkout()
	require.ErrorIs(t, err, ErrCheckoutInProgress)

	done(nil)
	assert.Equal(t, 2, c.Quantity("bowl"), "failed checkout keeps the cart")

	_, done, err = c.Checkout()
	require.NoError(t, err)
	done(nil)
}

func TestCheckoutRemovesOnlyCommittedQuantities(t *testing.T) {
	c := New(fixedLimits(map[string]int{"bowl": 5, "roll": 5}))
	c.Adjust("bowl", 2)

	lines, done, err := c.Checkout()
	require.NoError(t, err)

	c.Adjust("roll", 1)
	c.Adjust("bowl", 1)
	done(lines)
	done(lines)

	assert.Equal(t, 1, c.Quantity("bowl"))
	assert.Equal(t, 1, c.Quantity("roll"))
}

func TestSessionsExpireIdleCarts(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions(fixedLimits(map[string]int{"bowl": 2}))
	s.now = func() time.Time { return now }

	s.Get("idle").Adjust("bowl", 1)
	busy := s.Get("busy")
	busy.Adjust("bowl", 1)
	_, done, err := busy.Checkout()
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	s.Get("active")

	assert.Equal(t, 1, s.Expire(20*time.Minute))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 0, s.Get("idle").Quantity("bowl"), "expired cart starts over")

	done(nil)
	now = now.Add(time.Hour)
	assert.Equal(t, 3, s.Expire(20*time.Minute))
	assert.Zero(t, s.Len())
}

func TestRunExpiryStopsWithContext(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessions(fixedLimits(map[string]int{"bowl": 2}))
	s.now = func() time.Time { return start }
	s.Get("idle").Adjust("bowl", 1)
	s.now = func() time.Time { return start.Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.RunExpiry(ctx, time.Millisecond, 20*time.Minute)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("RunExpiry did not stop")
	}
}

func TestRunExpiryDisabledWithoutIdle(t *testing.T) {
	s := NewSessions(fixedLimits(nil))
	s.Get("kept")
	s.RunExpiry(context.Background(), time.Millisecond, 0)
	assert.Equal(t, 1, s.Len())
}
