package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderPaymentSubmitted = "ORDER_PAYMENT_SUBMITTED"
	EventTypeOrderCanceled         = "ORDER_CANCELED"
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypePurchaseRecorded      = "PURCHASE_RECORDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed and its stock reserved
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        string          `json:"user_id"`
	ReferenceCode string          `json:"reference_code"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaymentSubmittedEvent published when a payment proof is attached
type OrderPaymentSubmittedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	ProofURL string `json:"proof_url"`
}

// OrderCanceledEvent published when an order is canceled and its stock released
type OrderCanceledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderStatusChangedEvent published on administrative moves
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// PurchaseRecordedEvent is produced by the purchasing system when ingredient
// stock is bought in.
type PurchaseRecordedEvent struct {
	BaseEvent
	IngredientID int64           `json:"ingredient_id"`
	Amount       decimal.Decimal `json:"amount"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
