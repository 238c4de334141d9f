// Package loadtest drives concurrent order submissions against a committer
// to show that contended stock is never oversold.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/kieracarman/dripos-storefront/internal/cart"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/models"
)

// Submitter commits a cart
type Submitter interface {
	Submit(ctx context.Context, crt *cart.Cart) (models.Order, error)
}

// CatalogReader yields the catalog snapshot the simulated customers shop from
type CatalogReader interface {
	Ready() (models.Catalog, error)
}

// LoadTester runs load tests against a Submitter
type LoadTester struct {
	orders      Submitter
	catalog     CatalogReader
	concurrency int
	duration    time.Duration
	maxPerLine  int
	results     *LoadTestResults
}

// LoadTestResults holds the results of a load test
type LoadTestResults struct {
	RequestCount    int
	SuccessCount    int
	RejectedCount   int // insufficient stock at commit
	SoldOutCount    int // nothing was orderable when the cart was filled
	FailureCount    int
	UnitsOrdered    int
	TotalDuration   time.Duration
	MinResponseTime time.Duration
	MaxResponseTime time.Duration
	AvgResponseTime time.Duration
	RPS             float64
}

// NewLoadTester creates a new load tester
func NewLoadTester(orders Submitter, catalog CatalogReader) *LoadTester {
	return &LoadTester{
		orders:      orders,
		catalog:     catalog,
		concurrency: 10,
		duration:    10 * time.Second,
		maxPerLine:  3,
		results:     &LoadTestResults{},
	}
}

// SetConcurrency sets the number of concurrent customers
func (lt *LoadTester) SetConcurrency(n int) {
	lt.concurrency = n
}

// SetDuration sets the test duration
func (lt *LoadTester) SetDuration(d time.Duration) {
	lt.duration = d
}

func (lt *LoadTester) limit(menuItemID string) int {
	c, err := lt.catalog.Ready()
	if err != nil {
		return 0
	}
	return menu.Limit(c)(menuItemID)
}

// fillCart adds one to three random menu items to a fresh cart
func (lt *LoadTester) fillCart(rng *rand.Rand) *cart.Cart {
	crt := cart.New(lt.limit)
	c, err := lt.catalog.Ready()
	if err != nil || len(c.MenuItems) == 0 {
		return crt
	}
	lines := 1 + rng.Intn(3)
	for i := 0; i < lines; i++ {
		item := c.MenuItems[rng.Intn(len(c.MenuItems))]
		crt.Adjust(item.ID, 1+rng.Intn(lt.maxPerLine))
	}
	return crt
}

type outcome struct {
	err          error
	units        int
	responseTime time.Duration
}

// RunTest submits orders from concurrent customers until the duration
// elapses or ctx is done.
func (lt *LoadTester) RunTest(ctx context.Context) *LoadTestResults {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, lt.duration)
	defer cancel()

	var wg sync.WaitGroup
	resultsChan := make(chan outcome, lt.concurrency*16)

	for i := 0; i < lt.concurrency; i++ {
		wg.Add(1)
		go func(customer int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(start.UnixNano() + int64(customer)))

			for ctx.Err() == nil {
				crt := lt.fillCart(rng)
				units := 0
				for _, line := range crt.Lines() {
					units += line.Quantity
				}

				requestStart := time.Now()
				_, err := lt.orders.Submit(ctx, crt)
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return
				}
				resultsChan <- outcome{err: err, units: units, responseTime: time.Since(requestStart)}

				if units == 0 {
					select {
					case <-ctx.Done():
					case <-time.After(5 * time.Millisecond):
					}
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	res := &LoadTestResults{MinResponseTime: time.Hour}
	var totalResponseTime time.Duration
	for result := range resultsChan {
		res.RequestCount++
		switch {
		case result.err == nil:
			res.SuccessCount++
			res.UnitsOrdered += result.units
		case errors.Is(result.err, models.ErrInsufficientStock):
			res.RejectedCount++
		case errors.Is(result.err, models.ErrInvalidInput):
			res.SoldOutCount++
		default:
			res.FailureCount++
		}

		if result.responseTime < res.MinResponseTime {
			res.MinResponseTime = result.responseTime
		}
		if result.responseTime > res.MaxResponseTime {
			res.MaxResponseTime = result.responseTime
		}
		totalResponseTime += result.responseTime
	}

	res.TotalDuration = time.Since(start)
	if res.RequestCount > 0 {
		res.AvgResponseTime = totalResponseTime / time.Duration(res.RequestCount)
	} else {
		res.MinResponseTime = 0
	}
	res.RPS = float64(res.RequestCount) / res.TotalDuration.Seconds()

	lt.results = res
	return res
}

// Summary renders the results for the demo console
func (r *LoadTestResults) Summary() string {
	return fmt.Sprintf(
		"- Requests: %d\n- Committed: %d (%d units)\n- Rejected for stock: %d\n- Sold out: %d\n- Failed: %d\n- Throughput: %.2f orders/second\n- Response time: min %v, avg %v, max %v",
		r.RequestCount, r.SuccessCount, r.UnitsOrdered, r.RejectedCount, r.SoldOutCount, r.FailureCount,
		r.RPS, r.MinResponseTime, r.AvgResponseTime, r.MaxResponseTime,
	)
}
