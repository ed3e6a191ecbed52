// Package cart holds a client-side cart and reconciles it against the
// server's live availability before checkout. A successful Sync is advisory:
// order creation re-checks stock authoritatively.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bakery-service/internal/apperr"
)

var (
	ErrLineSoldOut  = errors.New("cart line is sold out")
	ErrAboveCeiling = errors.New("quantity above available stock")
	ErrUnknownLine  = errors.New("product not in cart")
)

// Status is the reconciliation outcome of a cart line. Exactly one of
// StatusOK, StatusAdjusted or StatusSoldOut.
type Status interface {
	Reason() string
	isStatus()
}

type StatusOK struct{}

// StatusAdjusted means the requested quantity was clamped to what is left.
type StatusAdjusted struct {
	Requested int64
	Available int64
}

type StatusSoldOut struct{}

func (StatusOK) Reason() string { return "" }

func (s StatusAdjusted) Reason() string {
	return fmt.Sprintf("only %d left, quantity reduced from %d", s.Available, s.Requested)
}

func (StatusSoldOut) Reason() string { return "sold out" }

func (StatusOK) isStatus()       {}
func (StatusAdjusted) isStatus() {}
func (StatusSoldOut) isStatus()  {}

// Line is one product in the cart. Ceiling is the last known availability
// and is only meaningful once HasCeiling is set by a sync.
type Line struct {
	ProductID  int64
	Quantity   int64
	Ceiling    int64
	HasCeiling bool
	Status     Status
}

// Request is what the cart asks the server about one line.
type Request struct {
	ProductID    int64 `json:"productId"`
	RequestedQty int64 `json:"requestedQty"`
}

// Checker answers the current producible quantity for each requested product.
type Checker interface {
	Check(ctx context.Context, items []Request) (map[int64]int64, error)
}

// Cart is safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	lines []*Line
}

func New() *Cart {
	return &Cart{}
}

// Add puts qty more units of a product in the cart.
func (c *Cart) Add(productID, qty int64) error {
	if qty <= 0 {
		return apperr.Invalid("qty", "quantity must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.findLocked(productID)
	if line == nil {
		c.lines = append(c.lines, &Line{ProductID: productID, Quantity: qty, Status: StatusOK{}})
		return nil
	}
	return setLocked(line, line.Quantity+qty)
}

// SetQuantity replaces a line's quantity. Zero removes the line.
func (c *Cart) SetQuantity(productID, qty int64) error {
	if qty < 0 {
		return apperr.Invalid("qty", "quantity must not be negative")
	}
	if qty == 0 {
		c.Remove(productID)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.findLocked(productID)
	if line == nil {
		return ErrUnknownLine
	}
	return setLocked(line, qty)
}

func setLocked(line *Line, qty int64) error {
	if _, soldOut := line.Status.(StatusSoldOut); soldOut {
		return ErrLineSoldOut
	}
	if line.HasCeiling && qty > line.Ceiling {
		return fmt.Errorf("%w: product %d has %d", ErrAboveCeiling, line.ProductID, line.Ceiling)
	}
	line.Quantity = qty
	line.Status = StatusOK{}
	return nil
}

func (c *Cart) Remove(productID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, line := range c.lines {
		if line.ProductID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// Clear empties the cart, e.g. after a successful checkout.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, *line)
	}
	return out
}

// Sync asks checker for live availability of every line and reconciles:
// nothing left marks the line sold out, less than requested clamps it, and
// anything else keeps the quantity and refreshes the ceiling. Lines added
// during the check are left untouched. It reports true only when every line
// was checked and already satisfiable.
func (c *Cart) Sync(ctx context.Context, checker Checker) (bool, error) {
	c.mu.Lock()
	requests := make([]Request, 0, len(c.lines))
	sent := make(map[int64]bool, len(c.lines))
	for _, line := range c.lines {
		requests = append(requests, Request{ProductID: line.ProductID, RequestedQty: line.Quantity})
		sent[line.ProductID] = true
	}
	c.mu.Unlock()

	if len(requests) == 0 {
		return true, nil
	}

	available, err := checker.Check(ctx, requests)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clean := true
	for _, line := range c.lines {
		// Lines added while the check was in flight wait for the next sync.
		if !sent[line.ProductID] {
			clean = false
			continue
		}
		avail := available[line.ProductID]
		if avail < 0 {
			avail = 0
		}
		line.Ceiling = avail
		line.HasCeiling = true

		switch {
		case avail == 0:
			line.Quantity = 0
			line.Status = StatusSoldOut{}
			clean = false
		case line.Quantity > avail:
			line.Status = StatusAdjusted{Requested: line.Quantity, Available: avail}
			line.Quantity = avail
			clean = false
		default:
			line.Status = StatusOK{}
		}
	}
	return clean, nil
}

func (c *Cart) findLocked(productID int64) *Line {
	for _, line := range c.lines {
		if line.ProductID == productID {
			return line
		}
	}
	return nil
}
