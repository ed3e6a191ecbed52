package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrDuplicateReference is returned when a generated reference code collides.
	ErrDuplicateReference = errors.New("duplicate order reference code")
	// ErrDuplicateIdempotencyKey is returned when an order with the same key exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// CreateOrder inserts the order, its items and its reservation in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, reference_code, status, coupon_id, coupon_code, discount_pct,
			subtotal, total, idempotency_key, delivery_phone, delivery_address, delivery_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.ReferenceCode, order.Status, order.CouponID, order.CouponCode, order.DiscountPct,
		order.Subtotal, order.Total, order.IdempotencyKey, order.Phone, order.Address, order.Notes,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		switch uniqueConstraint(err) {
		case "orders_reference_code_key":
			return ErrDuplicateReference
		case "orders_idempotency_key_key":
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.GetContext(ctx, &item.ID,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id",
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	for i := range order.Reservation {
		r := &order.Reservation[i]
		r.OrderID = order.ID
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_reservations (order_id, kind, ref_id, amount) VALUES ($1, $2, $3, $4)",
			r.OrderID, r.Kind, r.RefID, r.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrder retrieves an order with its items and reservation
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadOrderDetails(ctx, s.db, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadOrderDetails(ctx, s.db, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrders retrieves a user's orders, newest first. An empty userID lists all orders.
func (s *Store) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	var err error
	if userID == "" {
		err = s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	}
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return orders, nil
}

// TransitionOrder locks the order, lets apply validate and mutate it, then
// persists status and payment proof. Stock is not touched.
func (s *Store) TransitionOrder(ctx context.Context, id int64, apply func(*models.Order) error) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(order); err != nil {
		return nil, err
	}

	err = tx.GetContext(ctx, &order.UpdatedAt,
		"UPDATE orders SET status = $1, payment_proof_url = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at",
		order.Status, order.PaymentProofURL, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if err := s.loadOrderDetails(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder locks the order, lets check validate it, releases its
// reservation and marks it canceled, all in one transaction.
func (s *Store) CancelOrder(ctx context.Context, id int64, check func(*models.Order) error) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := check(order); err != nil {
		return nil, err
	}
	if err := s.loadOrderDetails(ctx, tx, order); err != nil {
		return nil, err
	}

	if len(order.Reservation) > 0 {
		entries, err := ledger.Normalize(ledger.FromReservation(order.Reservation))
		if err != nil {
			return nil, err
		}
		if err := releaseTx(ctx, tx, entries); err != nil {
			return nil, err
		}
	}

	order.Status = models.OrderStatusCanceled
	err = tx.GetContext(ctx, &order.UpdatedAt,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		order.Status, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// ListStalePending returns ids of orders still waiting for payment that were
// created before the cutoff, oldest first.
func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM orders WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.OrderStatusPendingPayment, before, limit)
	return ids, err
}

func lockOrder(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

func (s *Store) loadOrderDetails(ctx context.Context, q sqlx.QueryerContext, order *models.Order) error {
	order.Items = nil
	order.Reservation = nil
	if err := sqlx.SelectContext(ctx, q, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, &order.Reservation,
		"SELECT * FROM order_reservations WHERE order_id = $1", order.ID); err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}
	return nil
}
