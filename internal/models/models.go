package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient is a raw material held in the shared pool
type Ingredient struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Unit        string          `db:"unit" json:"unit"`
	StockOnHand decimal.Decimal `db:"stock_on_hand" json:"stock_on_hand"`
	Unlimited   bool            `db:"unlimited" json:"unlimited"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// discreteUnits need integral recipe quantities
var discreteUnits = map[string]bool{
	"unit":  true,
	"piece": true,
	"dozen": true,
	"egg":   true,
}

// IsDiscrete reports whether the ingredient is counted in whole pieces.
func (i Ingredient) IsDiscrete() bool {
	return discreteUnits[i.Unit]
}

// RecipeLine is one bill-of-materials row
type RecipeLine struct {
	ProductID       int64           `db:"product_id" json:"product_id"`
	IngredientID    int64           `db:"ingredient_id" json:"ingredient_id"`
	QuantityPerUnit decimal.Decimal `db:"quantity_per_unit" json:"quantity_per_unit"`
}

// Product represents a sellable bakery product
type Product struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	StockOnHand int64           `db:"stock_on_hand" json:"stock_on_hand"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	Recipe      []RecipeLine    `db:"-" json:"recipe,omitempty"`
}

// Coupon is a percentage discount code
type Coupon struct {
	ID          int64           `db:"id" json:"id"`
	Code        string          `db:"code" json:"code"`
	DiscountPct decimal.Decimal `db:"discount_pct" json:"discount_pct"`
	ExpiresOn   *time.Time      `db:"expires_on" json:"expires_on,omitempty"`
	Active      bool            `db:"active" json:"active"`
}

// Delivery holds the customer's contact and drop-off details
type Delivery struct {
	Phone   string `db:"delivery_phone" json:"phone"`
	Address string `db:"delivery_address" json:"address"`
	Notes   string `db:"delivery_notes" json:"notes,omitempty"`
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          string          `db:"user_id" json:"user_id"`
	ReferenceCode   string          `db:"reference_code" json:"reference_code"`
	Status          OrderStatus     `db:"status" json:"state"`
	CouponID        *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	CouponCode      *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	DiscountPct     decimal.Decimal `db:"discount_pct" json:"discount_pct"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total           decimal.Decimal `db:"total" json:"total"`
	PaymentProofURL *string         `db:"payment_proof_url" json:"payment_proof_url,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Delivery        `json:"delivery"`

	Items       []OrderItem        `db:"-" json:"items"`
	Reservation []ReservationEntry `db:"-" json:"-"`
}

// OrderItem represents items in an order; UnitPrice is frozen at creation
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int64           `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// ReservationEntry is a ledger decrement recorded against an order so that
// cancellation can release exactly what was taken.
type ReservationEntry struct {
	OrderID int64           `db:"order_id" json:"-"`
	Kind    string          `db:"kind" json:"kind"`
	RefID   int64           `db:"ref_id" json:"ref_id"`
	Amount  decimal.Decimal `db:"amount" json:"amount"`
}

// PaymentInstructions tell the customer how to pay by SINPE transfer
type PaymentInstructions struct {
	Phone         string          `json:"phone"`
	PayeeName     string          `json:"payeeName"`
	PayeeID       string          `json:"payeeId"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceCode string          `json:"referenceCode"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
