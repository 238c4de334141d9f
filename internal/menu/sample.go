package menu

import (
	"github.com/shopspring/decimal"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/models"
)

// SampleData adds the starter eel and the two eel dishes to b. Both dishes
// reference the eel created in the same batch.
func SampleData(b *batch.Builder) {
	eel := b.Create(models.CollectionIngredients, models.Ingredient{
		Name:     "Eel",
		Quantity: decimal.NewFromInt(2),
	}.Fields())

	b.Create(models.CollectionMenuItems, models.Fields{
		models.FieldName:        "Grilled Eel Bowl",
		models.FieldDescription: "Fresh water eel grilled with our special sauce over rice",
		models.FieldPrice:       decimal.RequireFromString("18.99"),
		models.FieldImage:       "https://example.com/grilled-eel.jpg",
		models.FieldRequiredIngredients: []batch.RecipeLine{
			{Ingredient: eel, Quantity: decimal.NewFromInt(1)},
		},
	})

	b.Create(models.CollectionMenuItems, models.Fields{
		models.FieldName:        "Eel Sushi Roll",
		models.FieldDescription: "Fresh eel with cucumber and avocado",
		models.FieldPrice:       decimal.RequireFromString("15.99"),
		models.FieldImage:       "https://example.com/eel-roll.jpg",
		models.FieldRequiredIngredients: []batch.RecipeLine{
			{Ingredient: eel, Quantity: decimal.RequireFromString("0.5")},
		},
	})
}
