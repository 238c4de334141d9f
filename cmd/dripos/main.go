package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/cart"
	"github.com/kieracarman/dripos-storefront/internal/catalog"
	"github.com/kieracarman/dripos-storefront/internal/inventory"
	"github.com/kieracarman/dripos-storefront/internal/loadtest"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/order"
	"github.com/kieracarman/dripos-storefront/internal/store/memory"
)

type demo struct {
	store     *memory.Store
	cache     *catalog.Cache
	inventory *inventory.Service
	orders    *order.Committer
	cart      *cart.Cart
	reader    *bufio.Reader
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	s := memory.New(logger)
	var b batch.Builder
	menu.SampleData(&b)
	seed, err := b.Compile(nil)
	if err != nil {
		logger.Error("failed to compile sample data", "error", err)
		os.Exit(1)
	}
	if err := s.Apply(ctx, seed); err != nil {
		logger.Error("failed to seed sample data", "error", err)
		os.Exit(1)
	}

	cache := catalog.New(s, catalog.WithLogger(logger))
	syncer := catalog.NewSyncer(cache, s, logger)
	if err := syncer.Start(); err != nil {
		logger.Error("failed to start catalog sync", "error", err)
		os.Exit(1)
	}
	defer syncer.Stop()

	d := &demo{
		store:     s,
		cache:     cache,
		inventory: inventory.NewService(s, logger),
		orders:    order.NewCommitter(cache, s, order.WithLogger(logger)),
		reader:    bufio.NewReader(os.Stdin),
	}
	d.cart = cart.New(d.limit)

	fmt.Println("=== DripOS Storefront Demo ===")
	for {
		fmt.Println("\nChoose an action:")
		fmt.Println("1. Show Menu Board")
		fmt.Println("2. Add Inventory")
		fmt.Println("3. Place an Order")
		fmt.Println("4. Run Load Test")
		fmt.Println("q. Quit")

		switch d.prompt("\nEnter your choice: ") {
		case "1":
			d.showBoard()
		case "2":
			d.addInventory(ctx)
		case "3":
			d.placeOrder(ctx)
		case "4":
			d.runLoadTest(ctx)
		case "q", "Q", "quit", "exit":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}

func (d *demo) prompt(label string) string {
	fmt.Print(label)
	input, _ := d.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (d *demo) limit(menuItemID string) int {
	return menu.Limit(d.cache.Current().Data)(menuItemID)
}

// settle gives the syncer a moment to pick up the last write
func (d *demo) settle() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.cache.Refresh(ctx)
}

func (d *demo) board() []menu.Entry {
	c, err := d.cache.Ready()
	if err != nil {
		fmt.Printf("Catalog unavailable: %v\n", err)
		return nil
	}
	return menu.Board(c)
}

func (d *demo) showBoard() {
	entries := d.board()
	fmt.Println("\n--- Menu ---")
	for i, e := range entries {
		status := fmt.Sprintf("%d available", e.MaxOrderable)
		if e.MaxOrderable == 0 {
			status = "sold out"
		}
		fmt.Printf("%d. %-20s $%s  (%s)\n", i+1, e.Item.Name, e.Item.Price.StringFixed(2), status)
	}

	c := d.cache.Current().Data
	fmt.Println("\n--- Inventory ---")
	for _, ing := range c.Ingredients {
		fmt.Printf("- %-20s %s %s\n", ing.Name, ing.Quantity.String(), ing.Unit)
	}
}

func (d *demo) addInventory(ctx context.Context) {
	name := d.prompt("Ingredient name: ")
	qty := d.prompt("Quantity to add: ")

	result, err := d.inventory.AddIngredient(ctx, name, qty)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	d.settle()
	if result.Merged {
		fmt.Printf("✅ Added %s to %s\n", result.Added, result.Name)
	} else {
		fmt.Printf("✅ Created %s with %s\n", result.Name, result.Added)
	}
}

func (d *demo) placeOrder(ctx context.Context) {
	entries := d.board()
	if len(entries) == 0 {
		return
	}
	d.showBoard()

	for {
		choice := d.prompt("\nItem number to add (blank to submit): ")
		if choice == "" {
			break
		}
		n, err := strconv.Atoi(choice)
		if err != nil || n < 1 || n > len(entries) {
			fmt.Println("Invalid item.")
			continue
		}
		item := entries[n-1].Item
		delta, err := strconv.Atoi(d.prompt("Quantity (negative to remove): "))
		if err != nil {
			fmt.Println("Invalid quantity.")
			continue
		}
		got := d.cart.Adjust(item.ID, delta)
		fmt.Printf("Cart: %d x %s\n", got, item.Name)
	}

	placed, err := d.orders.Submit(ctx, d.cart)
	var stock *models.InsufficientStockError
	switch {
	case err == nil:
		d.settle()
		fmt.Printf("✅ Order %s committed, total $%s\n", placed.ID, placed.TotalAmount.StringFixed(2))
	case errors.As(err, &stock):
		fmt.Println("❌ Not enough stock:")
		for _, s := range stock.Shortages {
			fmt.Printf("   %s: requested %d, available %d\n", s.Name, s.Requested, s.Available)
		}
	default:
		fmt.Printf("❌ %v\n", err)
	}
}

func (d *demo) runLoadTest(ctx context.Context) {
	concurrency, err := strconv.Atoi(d.prompt("Concurrent customers [50]: "))
	if err != nil || concurrency < 1 {
		concurrency = 50
	}

	lt := loadtest.NewLoadTester(d.orders, d.cache)
	lt.SetConcurrency(concurrency)
	lt.SetDuration(3 * time.Second)

	fmt.Printf("\nRunning %d concurrent customers for 3s...\n", concurrency)
	res := lt.RunTest(ctx)
	fmt.Println(res.Summary())

	ingredients, err := d.store.Ingredients(ctx)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	for _, ing := range ingredients {
		if ing.Quantity.IsNegative() {
			fmt.Printf("❌ %s went negative: %s\n", ing.Name, ing.Quantity)
			return
		}
	}
	fmt.Println("✅ No ingredient was oversold")
}
