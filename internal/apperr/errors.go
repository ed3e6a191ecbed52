// Package apperr holds the domain error taxonomy shared by the ledger, the
// services and the HTTP layer.
package apperr

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input. It is always raised before the
// ledger is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown product, ingredient, coupon or order.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// EntryKind tells whether a ledger conflict is on an ingredient or on a
// product's own stock cap.
type EntryKind string

const (
	KindIngredient EntryKind = "ingredient"
	KindProduct    EntryKind = "product"
)

// LedgerConflict is a single ledger entry that could not be satisfied.
type LedgerConflict struct {
	Kind      EntryKind       `json:"kind"`
	ID        int64           `json:"id"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
}

// Conflict is a product-level conflict as surfaced to the caller. IngredientID
// is set when the limiting resource is an ingredient rather than the product
// cap.
type Conflict struct {
	ProductID    int64  `json:"productId"`
	IngredientID *int64 `json:"ingredientId,omitempty"`
	Requested    int64  `json:"requested"`
	Available    int64  `json:"available"`
}

// StockConflictError is returned whenever a reservation cannot be satisfied.
// It carries every offending line, never just the first.
type StockConflictError struct {
	Entries   []LedgerConflict
	Conflicts []Conflict
}

func (e *StockConflictError) Error() string {
	parts := make([]string, 0, len(e.Entries)+len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("product %d requested=%d available=%d", c.ProductID, c.Requested, c.Available))
	}
	if len(parts) == 0 {
		for _, c := range e.Entries {
			parts = append(parts, fmt.Sprintf("%s %d requested=%s available=%s", c.Kind, c.ID, c.Requested, c.Available))
		}
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// InvalidTransitionError reports a lifecycle move the order's current state
// does not allow.
type InvalidTransitionError struct {
	OrderID int64
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}

// CouponReason is the structured cause of a coupon rejection.
type CouponReason string

const (
	CouponNotFound CouponReason = "NOT_FOUND"
	CouponInactive CouponReason = "INACTIVE"
	CouponExpired  CouponReason = "EXPIRED"
)

// CouponRejectedError carries the structured rejection reason.
type CouponRejectedError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// ForbiddenError reports a caller acting on a resource it does not own.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}
