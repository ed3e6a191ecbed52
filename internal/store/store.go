package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping is used by the readiness probe
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const uniqueViolation = "23505"

// uniqueConstraint returns the violated constraint name, or "" if err is not
// a unique violation.
func uniqueConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint
	}
	return ""
}

// GetProduct retrieves a product with its recipe
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}

	err = s.db.SelectContext(ctx, &product.Recipe,
		"SELECT * FROM recipe_lines WHERE product_id = $1 ORDER BY ingredient_id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return &product, nil
}

// GetIngredientsByIDs retrieves the given ingredients keyed by id
func (s *Store) GetIngredientsByIDs(ctx context.Context, ids []int64) (map[int64]models.Ingredient, error) {
	out := make(map[int64]models.Ingredient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT * FROM ingredients WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var ingredients []models.Ingredient
	if err := s.db.SelectContext(ctx, &ingredients, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, ing := range ingredients {
		out[ing.ID] = ing
	}
	return out, nil
}

// ReplaceRecipe swaps a product's bill of materials in one transaction
func (s *Store) ReplaceRecipe(ctx context.Context, productID int64, lines []models.RecipeLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, "SELECT id FROM products WHERE id = $1 FOR UPDATE", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("product", productID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock product: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM recipe_lines WHERE product_id = $1", productID); err != nil {
		return fmt.Errorf("failed to clear recipe: %w", err)
	}
	for _, line := range lines {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO recipe_lines (product_id, ingredient_id, quantity_per_unit) VALUES ($1, $2, $3)",
			productID, line.IngredientID, line.QuantityPerUnit)
		if err != nil {
			return fmt.Errorf("failed to insert recipe line: %w", err)
		}
	}

	return tx.Commit()
}

// GetCouponByCode retrieves a coupon by its canonical code. A missing coupon
// is (nil, nil).
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
