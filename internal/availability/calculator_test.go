package availability

import (
	"errors"
	"testing"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cakeSnapshot(flour string) (models.Product, *ledger.Snapshot) {
	cake := models.Product{ID: 1, Name: "Cake", StockOnHand: 100, Recipe: []models.RecipeLine{
		{ProductID: 1, IngredientID: 10, QuantityPerUnit: dec("2")},
	}}
	snap := &ledger.Snapshot{
		Products: map[int64]models.Product{1: cake},
		Ingredients: map[int64]models.Ingredient{
			10: {ID: 10, Name: "flour", Unit: "kg", StockOnHand: dec(flour)},
		},
	}
	return cake, snap
}

func TestProducibleQuantityFloors(t *testing.T) {
	cake, snap := cakeSnapshot("10")
	got, err := ProducibleQuantity(cake, cake.Recipe, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	cake, snap = cakeSnapshot("9")
	got, err = ProducibleQuantity(cake, cake.Recipe, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestProducibleQuantityCappedByProductStock(t *testing.T) {
	cake, snap := cakeSnapshot("1000")
	cake.StockOnHand = 3
	got, err := ProducibleQuantity(cake, cake.Recipe, snap)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestProducibleQuantityNeverNegative(t *testing.T) {
	tests := []struct {
		name  string
		flour string
		stock int64
	}{
		{"negative ingredient stock", "-4", 10},
		{"requirement above stock", "1", 10},
		{"negative product stock", "10", -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cake, snap := cakeSnapshot(tt.flour)
			cake.StockOnHand = tt.stock
			got, err := ProducibleQuantity(cake, cake.Recipe, snap)
			require.NoError(t, err)
			assert.Equal(t, int64(0), got)
		})
	}
}

func TestProducibleQuantityIgnoresUnlimited(t *testing.T) {
	cake, snap := cakeSnapshot("10")
	cake.Recipe = append(cake.Recipe, models.RecipeLine{ProductID: 1, IngredientID: 11, QuantityPerUnit: dec("0.5")})

	var results []int64
	for _, water := range []string{"0", "-20", "0.25", "100000"} {
		snap.Ingredients[11] = models.Ingredient{ID: 11, Name: "water", Unit: "l", StockOnHand: dec(water), Unlimited: true}
		got, err := ProducibleQuantity(cake, cake.Recipe, snap)
		require.NoError(t, err)
		results = append(results, got)
	}
	assert.Equal(t, []int64{5, 5, 5, 5}, results)
}

func TestProducibleQuantityEmptyRecipe(t *testing.T) {
	p := models.Product{ID: 2, StockOnHand: 7}
	got, err := ProducibleQuantity(p, nil, &ledger.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestProducibleQuantityRejectsZeroRequirement(t *testing.T) {
	cake, snap := cakeSnapshot("10")
	cake.Recipe[0].QuantityPerUnit = decimal.Zero
	_, err := ProducibleQuantity(cake, cake.Recipe, snap)
	assert.True(t, errors.Is(err, ErrInvalidRecipe))
}

func TestProducibleQuantityUnknownIngredient(t *testing.T) {
	cake, snap := cakeSnapshot("10")
	delete(snap.Ingredients, 10)
	_, err := ProducibleQuantity(cake, cake.Recipe, snap)
	var nf *apperr.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestDemandCombinesSharedIngredients(t *testing.T) {
	snap := &ledger.Snapshot{
		Products: map[int64]models.Product{
			1: {ID: 1, StockOnHand: 10, Recipe: []models.RecipeLine{
				{ProductID: 1, IngredientID: 10, QuantityPerUnit: dec("2")},
				{ProductID: 1, IngredientID: 11, QuantityPerUnit: dec("1")},
			}},
			2: {ID: 2, StockOnHand: 10, Recipe: []models.RecipeLine{
				{ProductID: 2, IngredientID: 10, QuantityPerUnit: dec("0.5")},
			}},
		},
		Ingredients: map[int64]models.Ingredient{
			10: {ID: 10, StockOnHand: dec("10")},
			11: {ID: 11, Unlimited: true},
		},
	}

	entries, err := Demand([]Item{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}}, snap)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, apperr.KindProduct, entries[0].Kind)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.True(t, entries[0].Amount.Equal(dec("2")))
	assert.Equal(t, int64(2), entries[1].ID)
	assert.True(t, entries[1].Amount.Equal(dec("3")))
	assert.Equal(t, apperr.KindIngredient, entries[2].Kind)
	assert.Equal(t, int64(10), entries[2].ID)
	assert.True(t, entries[2].Amount.Equal(dec("5.5")))
}

func TestDemandRejectsBadItems(t *testing.T) {
	_, snap := cakeSnapshot("10")

	_, err := Demand([]Item{{ProductID: 1, Quantity: 0}}, snap)
	var verr *apperr.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = Demand([]Item{{ProductID: 99, Quantity: 1}}, snap)
	var nf *apperr.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestValidateRecipeLine(t *testing.T) {
	eggs := models.Ingredient{ID: 5, Name: "egg", Unit: "egg"}
	flour := models.Ingredient{ID: 6, Name: "flour", Unit: "kg"}

	assert.NoError(t, ValidateRecipeLine(eggs, models.RecipeLine{IngredientID: 5, QuantityPerUnit: dec("3")}))
	assert.Error(t, ValidateRecipeLine(eggs, models.RecipeLine{IngredientID: 5, QuantityPerUnit: dec("1.5")}))
	assert.NoError(t, ValidateRecipeLine(flour, models.RecipeLine{IngredientID: 6, QuantityPerUnit: dec("0.25")}))
	assert.Error(t, ValidateRecipeLine(flour, models.RecipeLine{IngredientID: 6, QuantityPerUnit: dec("0")}))
	assert.Error(t, ValidateRecipeLine(flour, models.RecipeLine{IngredientID: 5, QuantityPerUnit: dec("1")}))
}
