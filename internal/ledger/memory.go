package ledger

import (
	"context"
	"sync"

	"bakery-service/internal/apperr"
	"bakery-service/internal/models"

	"github.com/shopspring/decimal"
)

// Memory is a mutex-guarded ledger. It honors the same all-or-nothing
// contract as the PostgreSQL ledger.
type Memory struct {
	mu          sync.Mutex
	products    map[int64]models.Product
	ingredients map[int64]models.Ingredient
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		products:    make(map[int64]models.Product),
		ingredients: make(map[int64]models.Ingredient),
	}
}

// PutIngredient registers or replaces an ingredient
func (m *Memory) PutIngredient(ing models.Ingredient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingredients[ing.ID] = ing
}

// PutProduct registers or replaces a product together with its recipe
func (m *Memory) PutProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Recipe = append([]models.RecipeLine(nil), p.Recipe...)
	m.products[p.ID] = p
}

func (m *Memory) Read(ctx context.Context, kind apperr.EntryKind, id int64) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available, _, ok := m.availableLocked(kind, id)
	if !ok {
		return decimal.Zero, apperr.NotFound(string(kind), id)
	}
	return available, nil
}

func (m *Memory) Snapshot(ctx context.Context, productIDs []int64) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{
		Products:    make(map[int64]models.Product, len(productIDs)),
		Ingredients: make(map[int64]models.Ingredient),
	}
	for _, id := range productIDs {
		p, ok := m.products[id]
		if !ok {
			continue
		}
		p.Recipe = append([]models.RecipeLine(nil), p.Recipe...)
		snap.Products[id] = p
		for _, line := range p.Recipe {
			if ing, ok := m.ingredients[line.IngredientID]; ok {
				snap.Ingredients[ing.ID] = ing
			}
		}
	}
	return snap, nil
}

func (m *Memory) TryReserve(ctx context.Context, entries []Entry) error {
	normalized, err := Normalize(entries)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []apperr.LedgerConflict
	for _, e := range normalized {
		available, unlimited, ok := m.availableLocked(e.Kind, e.ID)
		if unlimited {
			continue
		}
		if !ok {
			available = decimal.Zero
		}
		if available.LessThan(e.Amount) {
			conflicts = append(conflicts, apperr.LedgerConflict{
				Kind:      e.Kind,
				ID:        e.ID,
				Requested: e.Amount,
				Available: available,
			})
		}
	}
	if len(conflicts) > 0 {
		return &apperr.StockConflictError{Entries: conflicts}
	}

	for _, e := range normalized {
		m.applyLocked(e, e.Amount.Neg())
	}
	return nil
}

func (m *Memory) Release(ctx context.Context, entries []Entry) error {
	normalized, err := Normalize(entries)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range normalized {
		if _, _, ok := m.availableLocked(e.Kind, e.ID); !ok {
			return apperr.NotFound(string(e.Kind), e.ID)
		}
	}
	for _, e := range normalized {
		m.applyLocked(e, e.Amount)
	}
	return nil
}

func (m *Memory) Increase(ctx context.Context, ingredientID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Invalid("amount", "purchase amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ing, ok := m.ingredients[ingredientID]
	if !ok {
		return apperr.NotFound("ingredient", ingredientID)
	}
	if ing.Unlimited {
		return nil
	}
	ing.StockOnHand = ing.StockOnHand.Add(amount)
	m.ingredients[ingredientID] = ing
	return nil
}

// availableLocked returns stock, whether the row is unlimited, and whether it exists.
func (m *Memory) availableLocked(kind apperr.EntryKind, id int64) (decimal.Decimal, bool, bool) {
	switch kind {
	case apperr.KindProduct:
		p, ok := m.products[id]
		return decimal.NewFromInt(p.StockOnHand), false, ok
	case apperr.KindIngredient:
		ing, ok := m.ingredients[id]
		return ing.StockOnHand, ing.Unlimited, ok
	}
	return decimal.Zero, false, false
}

func (m *Memory) applyLocked(e Entry, delta decimal.Decimal) {
	switch e.Kind {
	case apperr.KindProduct:
		p := m.products[e.ID]
		p.StockOnHand += delta.IntPart()
		m.products[e.ID] = p
	case apperr.KindIngredient:
		ing := m.ingredients[e.ID]
		if ing.Unlimited {
			return
		}
		ing.StockOnHand = ing.StockOnHand.Add(delta)
		m.ingredients[e.ID] = ing
	}
}
