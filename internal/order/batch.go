package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/models"
)

// Total prices the lines at current catalog prices. Lines naming unknown
// menu items contribute nothing.
func Total(catalog models.Catalog, lines []models.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		item, ok := catalog.MenuItem(line.MenuItemID)
		if !ok {
			continue
		}
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// BuildBatch emits the order create followed by one decrement and one audit
// transaction per cart line and recipe line. Every record shares now.
func BuildBatch(catalog models.Catalog, lines []models.OrderLine, total decimal.Decimal, now time.Time) (*batch.Builder, batch.Ref) {
	b := &batch.Builder{}
	orderRef := b.Create(models.CollectionOrders, models.Order{
		Items:       append([]models.OrderLine(nil), lines...),
		Status:      models.OrderCompleted,
		CreatedAt:   now,
		TotalAmount: total,
	}.Fields())

	for _, line := range lines {
		item, ok := catalog.MenuItem(line.MenuItemID)
		if !ok {
			continue
		}
		units := decimal.NewFromInt(int64(line.Quantity))
		for _, r := range item.RequiredIngredients {
			amount := r.Quantity.Mul(units)
			b.Decrement(models.CollectionIngredients, batch.Existing(r.IngredientID), models.FieldQuantity, amount)
			b.Create(models.CollectionTransactions, models.Fields{
				models.FieldOrderID:         orderRef,
				models.FieldIngredientID:    r.IngredientID,
				models.FieldQuantityChanged: amount.Neg(),
				models.FieldTimestamp:       now,
			})
		}
	}
	return b, orderRef
}

// Validate checks every line against the catalog. It reports lines above
// their own max, lines naming unknown items, and lines whose ingredients are
// over-committed by the cart as a whole.
func Validate(catalog models.Catalog, lines []models.OrderLine) error {
	stock := menu.StockFrom(catalog.Ingredients)
	var shortages []models.Shortage
	listed := make(map[string]bool)

	for _, line := range lines {
		item, ok := catalog.MenuItem(line.MenuItemID)
		if !ok {
			shortages = append(shortages, models.Shortage{MenuItemID: line.MenuItemID, Requested: line.Quantity})
			listed[line.MenuItemID] = true
			continue
		}
		if avail := menu.MaxOrderable(item, stock); line.Quantity > avail {
			shortages = append(shortages, models.Shortage{
				MenuItemID: item.ID,
				Name:       item.Name,
				Requested:  line.Quantity,
				Available:  avail,
			})
			listed[item.ID] = true
		}
	}

	demand := demandOf(catalog, lines)
	for _, line := range lines {
		if listed[line.MenuItemID] {
			continue
		}
		item, _ := catalog.MenuItem(line.MenuItemID)
		if !overCommitted(item, demand, stock) {
			continue
		}
		own := demandOf(catalog, []models.OrderLine{line})
		residual := make(menu.Stock, len(stock))
		for id, qty := range stock {
			residual[id] = qty.Sub(demand[id].Sub(own[id]))
		}
		shortages = append(shortages, models.Shortage{
			MenuItemID: item.ID,
			Name:       item.Name,
			Requested:  line.Quantity,
			Available:  menu.MaxOrderable(item, residual),
		})
		listed[item.ID] = true
	}

	if len(shortages) > 0 {
		return &models.InsufficientStockError{Shortages: shortages}
	}
	return nil
}

func demandOf(catalog models.Catalog, lines []models.OrderLine) map[string]decimal.Decimal {
	demand := make(map[string]decimal.Decimal)
	for _, line := range lines {
		item, ok := catalog.MenuItem(line.MenuItemID)
		if !ok {
			continue
		}
		units := decimal.NewFromInt(int64(line.Quantity))
		for _, r := range item.RequiredIngredients {
			demand[r.IngredientID] = demand[r.IngredientID].Add(r.Quantity.Mul(units))
		}
	}
	return demand
}

func overCommitted(item models.MenuItem, demand map[string]decimal.Decimal, stock menu.Stock) bool {
	for _, r := range item.RequiredIngredients {
		if demand[r.IngredientID].GreaterThan(stock[r.IngredientID]) {
			return true
		}
	}
	return false
}

// shortagesFor lists the lines consuming ingredientID with their
// availability in catalog
func shortagesFor(catalog models.Catalog, lines []models.OrderLine, ingredientID string) []models.Shortage {
	stock := menu.StockFrom(catalog.Ingredients)
	var out []models.Shortage
	for _, line := range lines {
		item, ok := catalog.MenuItem(line.MenuItemID)
		if !ok {
			continue
		}
		for _, r := range item.RequiredIngredients {
			if r.IngredientID == ingredientID {
				out = append(out, models.Shortage{
					MenuItemID: item.ID,
					Name:       item.Name,
					Requested:  line.Quantity,
					Available:  menu.MaxOrderable(item, stock),
				})
				break
			}
		}
	}
	return out
}
