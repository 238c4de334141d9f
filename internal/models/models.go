package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names a group of records held by the data service
type Collection string

const (
	CollectionIngredients  Collection = "ingredients"
	CollectionMenuItems    Collection = "menuItems"
	CollectionOrders       Collection = "orders"
	CollectionTransactions Collection = "transactions"
)

// Valid reports whether c is one of the known collections
func (c Collection) Valid() bool {
	switch c {
	case CollectionIngredients, CollectionMenuItems, CollectionOrders, CollectionTransactions:
		return true
	}
	return false
}

// Ingredient represents a stocked ingredient
type Ingredient struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit,omitempty"`
}

// RecipeLine is the amount of one ingredient consumed by a single unit of a menu item
type RecipeLine struct {
	IngredientID string          `json:"ingredientId"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// MenuItem represents an item on the menu
type MenuItem struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Price               decimal.Decimal `json:"price"`
	Image               string          `json:"image,omitempty"`
	RequiredIngredients []RecipeLine    `json:"requiredIngredients"`
}

// OrderLine represents an item in an order
type OrderLine struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// Order represents a customer order
type Order struct {
	ID          string          `json:"id"`
	Items       []OrderLine     `json:"items"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

// Transaction is the audit record of one ingredient movement caused by an order
type Transaction struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"orderId"`
	IngredientID    string          `json:"ingredientId"`
	QuantityChanged decimal.Decimal `json:"quantityChanged"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Catalog is the read side of the store: menu items and ingredient stock
type Catalog struct {
	MenuItems   []MenuItem   `json:"menuItems"`
	Ingredients []Ingredient `json:"ingredients"`
}

// MenuItem looks up a menu item by id
func (c Catalog) MenuItem(id string) (MenuItem, bool) {
	for _, item := range c.MenuItems {
		if item.ID == id {
			return item, true
		}
	}
	return MenuItem{}, false
}

// Ingredient looks up an ingredient by id
func (c Catalog) Ingredient(id string) (Ingredient, bool) {
	for _, ing := range c.Ingredients {
		if ing.ID == id {
			return ing, true
		}
	}
	return Ingredient{}, false
}

// IngredientByName finds an ingredient whose name matches ignoring case and surrounding space
func (c Catalog) IngredientByName(name string) (Ingredient, bool) {
	name = strings.TrimSpace(name)
	for _, ing := range c.Ingredients {
		if strings.EqualFold(strings.TrimSpace(ing.Name), name) {
			return ing, true
		}
	}
	return Ingredient{}, false
}

// Change tells subscribers which collections a committed batch touched
type Change struct {
	Collections []Collection `json:"collections"`
}

// Touches reports whether the change affected collection c
func (c Change) Touches(col Collection) bool {
	for _, touched := range c.Collections {
		if touched == col {
			return true
		}
	}
	return false
}

// Merge unions two changes keeping first-seen order
func (c Change) Merge(other Change) Change {
	out := Change{Collections: append([]Collection(nil), c.Collections...)}
	for _, col := range other.Collections {
		if !out.Touches(col) {
			out.Collections = append(out.Collections, col)
		}
	}
	return out
}
