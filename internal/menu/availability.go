package menu

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/models"
)

var maxOrderableCap = decimal.NewFromInt(math.MaxInt32)

// Stock maps ingredient id to quantity on hand
type Stock map[string]decimal.Decimal

// StockFrom indexes ingredient quantities by id
func StockFrom(ingredients []models.Ingredient) Stock {
	stock := make(Stock, len(ingredients))
	for _, ing := range ingredients {
		stock[ing.ID] = ing.Quantity
	}
	return stock
}

// MaxOrderable returns how many units of item the stock can cover: the
// smallest floor(stock / required) across its recipe. An empty recipe, a
// missing ingredient, a non-positive requirement or negative stock yields 0.
func MaxOrderable(item models.MenuItem, stock Stock) int {
	if len(item.RequiredIngredients) == 0 {
		return 0
	}
	best := maxOrderableCap
	for _, line := range item.RequiredIngredients {
		onHand, ok := stock[line.IngredientID]
		if !ok || !line.Quantity.IsPositive() || onHand.IsNegative() {
			return 0
		}
		units, _ := onHand.QuoRem(line.Quantity, 0)
		if units.LessThan(best) {
			best = units
		}
	}
	return int(best.IntPart())
}

// Limit returns a function giving the max orderable quantity of a menu
// item in catalog. Unknown items are not orderable.
func Limit(catalog models.Catalog) func(menuItemID string) int {
	stock := StockFrom(catalog.Ingredients)
	items := make(map[string]models.MenuItem, len(catalog.MenuItems))
	for _, item := range catalog.MenuItems {
		items[item.ID] = item
	}
	return func(menuItemID string) int {
		item, ok := items[menuItemID]
		if !ok {
			return 0
		}
		return MaxOrderable(item, stock)
	}
}

// Entry is one row of the menu board
type Entry struct {
	Item         models.MenuItem `json:"item"`
	MaxOrderable int             `json:"maxOrderable"`
}

// Board lists every menu item with its current availability
func Board(catalog models.Catalog) []Entry {
	stock := StockFrom(catalog.Ingredients)
	entries := make([]Entry, 0, len(catalog.MenuItems))
	for _, item := range catalog.MenuItems {
		entries = append(entries, Entry{Item: item, MaxOrderable: MaxOrderable(item, stock)})
	}
	return entries
}
