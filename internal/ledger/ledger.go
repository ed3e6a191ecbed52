// Package ledger defines the stock ledger: the single owner of ingredient and
// product quantities. All quantity mutation goes through TryReserve, Release
// and Increase.
package ledger

import (
	"context"
	"sort"

	"bakery-service/internal/apperr"
	"bakery-service/internal/models"

	"github.com/shopspring/decimal"
)

// Entry is one quantity movement against the ledger.
type Entry struct {
	Kind   apperr.EntryKind `json:"kind"`
	ID     int64            `json:"id"`
	Amount decimal.Decimal  `json:"amount"`
}

// IngredientEntry builds an entry against an ingredient's stock.
func IngredientEntry(id int64, amount decimal.Decimal) Entry {
	return Entry{Kind: apperr.KindIngredient, ID: id, Amount: amount}
}

// ProductEntry builds an entry against a product's own stock cap.
func ProductEntry(id, quantity int64) Entry {
	return Entry{Kind: apperr.KindProduct, ID: id, Amount: decimal.NewFromInt(quantity)}
}

// Snapshot is a point-in-time read of products, their recipes and every
// ingredient those recipes reference. It is never cached beyond one evaluation.
type Snapshot struct {
	Products    map[int64]models.Product
	Ingredients map[int64]models.Ingredient
}

// Ledger is the authoritative stock store.
type Ledger interface {
	// Read returns the stock on hand of a single ingredient or product.
	Read(ctx context.Context, kind apperr.EntryKind, id int64) (decimal.Decimal, error)
	// Snapshot loads the given products (with recipes) and their ingredients.
	// Unknown products are omitted.
	Snapshot(ctx context.Context, productIDs []int64) (*Snapshot, error)
	// TryReserve decrements every entry or none. On shortage it returns a
	// *apperr.StockConflictError listing every offending entry.
	TryReserve(ctx context.Context, entries []Entry) error
	// Release is the exact inverse of a successful TryReserve.
	Release(ctx context.Context, entries []Entry) error
	// Increase adds purchased stock to an ingredient.
	Increase(ctx context.Context, ingredientID int64, amount decimal.Decimal) error
}

// Normalize merges duplicate entries, rejects non-positive amounts and orders
// the result products first, then ingredients, each by ascending id. Every
// implementation locks in this order so concurrent reservations cannot
// deadlock.
func Normalize(entries []Entry) ([]Entry, error) {
	type key struct {
		kind apperr.EntryKind
		id   int64
	}
	merged := make(map[key]decimal.Decimal, len(entries))
	for _, e := range entries {
		if e.Kind != apperr.KindIngredient && e.Kind != apperr.KindProduct {
			return nil, apperr.Invalid("kind", "unknown ledger entry kind %q", e.Kind)
		}
		if !e.Amount.IsPositive() {
			return nil, apperr.Invalid("amount", "%s %d: amount must be positive", e.Kind, e.ID)
		}
		k := key{e.Kind, e.ID}
		merged[k] = merged[k].Add(e.Amount)
	}

	out := make([]Entry, 0, len(merged))
	for k, amount := range merged {
		out = append(out, Entry{Kind: k.kind, ID: k.id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == apperr.KindProduct
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// FromReservation converts persisted reservation rows back into entries.
func FromReservation(rows []models.ReservationEntry) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{Kind: apperr.EntryKind(r.Kind), ID: r.RefID, Amount: r.Amount})
	}
	return entries
}

// ToReservation converts entries into rows persisted with an order.
func ToReservation(entries []Entry) []models.ReservationEntry {
	rows := make([]models.ReservationEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.ReservationEntry{Kind: string(e.Kind), RefID: e.ID, Amount: e.Amount})
	}
	return rows
}
