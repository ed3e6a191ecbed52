package service

import (
	"context"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/models"
)

// OrderRepository persists orders. CancelOrder must release the persisted
// reservation and flip the status in the same transaction.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ListOrders(ctx context.Context, userID string) ([]models.Order, error)
	TransitionOrder(ctx context.Context, id int64, apply func(*models.Order) error) (*models.Order, error)
	CancelOrder(ctx context.Context, id int64, check func(*models.Order) error) (*models.Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// CouponRepository looks coupons up by canonical code; a miss is (nil, nil).
type CouponRepository interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// CatalogRepository serves recipe authoring.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetIngredientsByIDs(ctx context.Context, ids []int64) (map[int64]models.Ingredient, error)
	ReplaceRecipe(ctx context.Context, productID int64, lines []models.RecipeLine) error
}

// EventLog deduplicates consumed events.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventPublisher emits order domain events. Failures are logged by callers,
// never surfaced.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaymentSubmitted(ctx context.Context, event *models.OrderPaymentSubmittedEvent) error
	PublishOrderCanceled(ctx context.Context, event *models.OrderCanceledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Locker guards concurrent submissions that share an idempotency key.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// Caller is the authenticated identity forwarded by the gateway.
type Caller struct {
	UserID string
	Admin  bool
}

// SystemCaller is used by background workers.
var SystemCaller = Caller{UserID: "system", Admin: true}

func (c Caller) owns(o *models.Order) error {
	if c.Admin || c.UserID == o.UserID {
		return nil
	}
	return &apperr.ForbiddenError{Message: "order belongs to another customer"}
}

func (c Caller) requireAdmin() error {
	if c.Admin {
		return nil
	}
	return &apperr.ForbiddenError{Message: "administrator role required"}
}
