// Package availability computes how many units of a product can still be
// sold from its recipe and a ledger snapshot. Nothing here performs I/O.
package availability

import (
	"errors"
	"fmt"
	"math"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidRecipe marks a recipe line with a missing, zero or negative
// per-unit quantity.
var ErrInvalidRecipe = errors.New("invalid recipe")

// Item is a requested product quantity.
type Item struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"qty"`
}

// ProducibleQuantity returns
// min(product stock, min over lines of floor(ingredient stock / per-unit)),
// ignoring unlimited ingredients and clamping at zero.
func ProducibleQuantity(product models.Product, recipe []models.RecipeLine, snap *ledger.Snapshot) (int64, error) {
	best := product.StockOnHand
	for _, line := range recipe {
		if !line.QuantityPerUnit.IsPositive() {
			return 0, fmt.Errorf("%w: product %d ingredient %d quantity %s",
				ErrInvalidRecipe, product.ID, line.IngredientID, line.QuantityPerUnit)
		}
		ing, ok := snap.Ingredients[line.IngredientID]
		if !ok {
			return 0, apperr.NotFound("ingredient", line.IngredientID)
		}
		if ing.Unlimited {
			continue
		}
		if units := floorUnits(ing.StockOnHand, line.QuantityPerUnit); units < best {
			best = units
		}
	}
	if best < 0 {
		return 0, nil
	}
	return best, nil
}

// floorUnits is floor(stock / perUnit) saturated to the int64 range.
func floorUnits(stock, perUnit decimal.Decimal) int64 {
	if !stock.IsPositive() {
		return 0
	}
	q, _ := stock.QuoRem(perUnit, 0)
	if q.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return math.MaxInt64
	}
	return q.IntPart()
}

// Demand translates order items into one product-cap entry per product plus
// the combined ingredient demand of every recipe. Unlimited ingredients are
// left out.
func Demand(items []Item, snap *ledger.Snapshot) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, apperr.Invalid("qty", "product %d: quantity must be positive", it.ProductID)
		}
		p, ok := snap.Products[it.ProductID]
		if !ok {
			return nil, apperr.NotFound("product", it.ProductID)
		}
		entries = append(entries, ledger.ProductEntry(p.ID, it.Quantity))

		qty := decimal.NewFromInt(it.Quantity)
		for _, line := range p.Recipe {
			if !line.QuantityPerUnit.IsPositive() {
				return nil, fmt.Errorf("%w: product %d ingredient %d quantity %s",
					ErrInvalidRecipe, p.ID, line.IngredientID, line.QuantityPerUnit)
			}
			if ing, ok := snap.Ingredients[line.IngredientID]; ok && ing.Unlimited {
				continue
			}
			entries = append(entries, ledger.IngredientEntry(line.IngredientID, line.QuantityPerUnit.Mul(qty)))
		}
	}
	return ledger.Normalize(entries)
}

// ValidateRecipeLine checks a recipe line against its ingredient's unit.
// Discrete units take whole quantities only.
func ValidateRecipeLine(ing models.Ingredient, line models.RecipeLine) error {
	if line.IngredientID != ing.ID {
		return apperr.Invalid("ingredientId", "recipe line references ingredient %d, got %d", line.IngredientID, ing.ID)
	}
	if !line.QuantityPerUnit.IsPositive() {
		return apperr.Invalid("quantityPerUnit", "ingredient %d: quantity per unit must be positive", ing.ID)
	}
	if ing.IsDiscrete() && !line.QuantityPerUnit.Equal(line.QuantityPerUnit.Truncate(0)) {
		return apperr.Invalid("quantityPerUnit", "ingredient %s is counted in %s and needs a whole quantity, got %s",
			ing.Name, ing.Unit, line.QuantityPerUnit)
	}
	return nil
}
