package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var _ ledger.Ledger = (*Store)(nil)

// Read returns the stock on hand of one product or ingredient
func (s *Store) Read(ctx context.Context, kind apperr.EntryKind, id int64) (decimal.Decimal, error) {
	var (
		stock decimal.Decimal
		err   error
	)
	switch kind {
	case apperr.KindProduct:
		var units int64
		err = s.db.GetContext(ctx, &units, "SELECT stock_on_hand FROM products WHERE id = $1", id)
		stock = decimal.NewFromInt(units)
	case apperr.KindIngredient:
		err = s.db.GetContext(ctx, &stock, "SELECT stock_on_hand FROM ingredients WHERE id = $1", id)
	default:
		return decimal.Zero, apperr.Invalid("kind", "unknown ledger entry kind %q", kind)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, apperr.NotFound(string(kind), id)
	}
	return stock, err
}

// Snapshot reads products, recipes and ingredients inside one read-only
// repeatable-read transaction so every figure comes from the same instant.
func (s *Store) Snapshot(ctx context.Context, productIDs []int64) (*ledger.Snapshot, error) {
	snap := &ledger.Snapshot{
		Products:    make(map[int64]models.Product, len(productIDs)),
		Ingredients: make(map[int64]models.Ingredient),
	}
	if len(productIDs) == 0 {
		return snap, nil
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var products []models.Product
	if err := selectIn(ctx, tx, &products, "SELECT * FROM products WHERE id IN (?)", productIDs); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	var lines []models.RecipeLine
	if err := selectIn(ctx, tx, &lines,
		"SELECT * FROM recipe_lines WHERE product_id IN (?) ORDER BY product_id, ingredient_id", productIDs); err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}
	var ingredients []models.Ingredient
	if err := selectIn(ctx, tx, &ingredients,
		"SELECT * FROM ingredients WHERE id IN (SELECT ingredient_id FROM recipe_lines WHERE product_id IN (?))", productIDs); err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, p := range products {
		snap.Products[p.ID] = p
	}
	for _, line := range lines {
		p := snap.Products[line.ProductID]
		p.Recipe = append(p.Recipe, line)
		snap.Products[line.ProductID] = p
	}
	for _, ing := range ingredients {
		snap.Ingredients[ing.ID] = ing
	}
	return snap, nil
}

// TryReserve decrements every entry or none
func (s *Store) TryReserve(ctx context.Context, entries []ledger.Entry) error {
	normalized, err := ledger.Normalize(entries)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := reserveTx(ctx, tx, normalized); err != nil {
		return err
	}
	return tx.Commit()
}

// Release adds back exactly what a reservation took
func (s *Store) Release(ctx context.Context, entries []ledger.Entry) error {
	normalized, err := ledger.Normalize(entries)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := releaseTx(ctx, tx, normalized); err != nil {
		return err
	}
	return tx.Commit()
}

// Increase records purchased ingredient stock. Unlimited ingredients are left alone.
func (s *Store) Increase(ctx context.Context, ingredientID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Invalid("amount", "purchase amount must be positive")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE ingredients
		SET stock_on_hand = CASE WHEN unlimited THEN stock_on_hand ELSE stock_on_hand + $2 END,
		    updated_at = NOW()
		WHERE id = $1`, ingredientID, amount)
	if err != nil {
		return fmt.Errorf("failed to increase stock: %w", err)
	}
	return expectOneRow(res, apperr.KindIngredient, ingredientID)
}

// reserveTx locks every row in the normalized order (products first, then
// ingredients, ascending id), collects every shortage and only then
// decrements. Missing rows count as zero available.
func reserveTx(ctx context.Context, tx *sqlx.Tx, entries []ledger.Entry) error {
	type lockedRow struct {
		entry     ledger.Entry
		unlimited bool
	}
	rows := make([]lockedRow, 0, len(entries))

	var conflicts []apperr.LedgerConflict
	for _, e := range entries {
		available, unlimited, err := lockRow(ctx, tx, e)
		if err != nil {
			return err
		}
		rows = append(rows, lockedRow{entry: e, unlimited: unlimited})
		if !unlimited && available.LessThan(e.Amount) {
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

	for _, row := range rows {
		if row.unlimited {
			continue
		}
		if err := adjustRow(ctx, tx, row.entry, row.entry.Amount.Neg()); err != nil {
			return fmt.Errorf("failed to reserve %s %d: %w", row.entry.Kind, row.entry.ID, err)
		}
	}
	return nil
}

func releaseTx(ctx context.Context, tx *sqlx.Tx, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := adjustRow(ctx, tx, e, e.Amount); err != nil {
			return fmt.Errorf("failed to release %s %d: %w", e.Kind, e.ID, err)
		}
	}
	return nil
}

func lockRow(ctx context.Context, tx *sqlx.Tx, e ledger.Entry) (decimal.Decimal, bool, error) {
	switch e.Kind {
	case apperr.KindProduct:
		var units int64
		err := tx.GetContext(ctx, &units, "SELECT stock_on_hand FROM products WHERE id = $1 FOR UPDATE", e.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("failed to lock product %d: %w", e.ID, err)
		}
		return decimal.NewFromInt(units), false, nil

	case apperr.KindIngredient:
		var row struct {
			Stock     decimal.Decimal `db:"stock_on_hand"`
			Unlimited bool            `db:"unlimited"`
		}
		err := tx.GetContext(ctx, &row, "SELECT stock_on_hand, unlimited FROM ingredients WHERE id = $1 FOR UPDATE", e.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("failed to lock ingredient %d: %w", e.ID, err)
		}
		return row.Stock, row.Unlimited, nil
	}
	return decimal.Zero, false, apperr.Invalid("kind", "unknown ledger entry kind %q", e.Kind)
}

func adjustRow(ctx context.Context, tx *sqlx.Tx, e ledger.Entry, delta decimal.Decimal) error {
	var (
		res sql.Result
		err error
	)
	switch e.Kind {
	case apperr.KindProduct:
		res, err = tx.ExecContext(ctx,
			"UPDATE products SET stock_on_hand = stock_on_hand + $2 WHERE id = $1",
			e.ID, delta.IntPart())
	case apperr.KindIngredient:
		res, err = tx.ExecContext(ctx, `
			UPDATE ingredients
			SET stock_on_hand = CASE WHEN unlimited THEN stock_on_hand ELSE stock_on_hand + $2 END,
			    updated_at = NOW()
			WHERE id = $1`, e.ID, delta)
	default:
		return apperr.Invalid("kind", "unknown ledger entry kind %q", e.Kind)
	}
	if err != nil {
		return err
	}
	return expectOneRow(res, e.Kind, e.ID)
}

func expectOneRow(res sql.Result, kind apperr.EntryKind, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(string(kind), id)
	}
	return nil
}

func selectIn(ctx context.Context, tx *sqlx.Tx, dest interface{}, query string, ids []int64) error {
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return tx.SelectContext(ctx, dest, tx.Rebind(q), args...)
}
