package models

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusInProduction   OrderStatus = "IN_PRODUCTION"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCanceled       OrderStatus = "CANCELED"
)

// fulfillment is the forward path an order walks once created.
var fulfillment = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusConfirmed,
	OrderStatusInProduction,
	OrderStatusReadyForPickup,
	OrderStatusDelivered,
}

// ParseOrderStatus returns the status and whether it is known.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	if st == OrderStatusCanceled {
		return st, true
	}
	return st, st.position() >= 0
}

func (s OrderStatus) position() int {
	for i, st := range fulfillment {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// CanCancel: only orders still waiting for payment can be canceled.
func (s OrderStatus) CanCancel() bool {
	return s == OrderStatusPendingPayment
}

// CanConfirmPayment: payment proof is only accepted while pending.
func (s OrderStatus) CanConfirmPayment() bool {
	return s == OrderStatusPendingPayment
}

// CanAdvanceTo allows the administrative forward moves after payment
// confirmation, one step at a time.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, to := s.position(), next.position()
	if from < 1 || to < 0 {
		return false
	}
	return to == from+1
}

// CanRevertTo allows an explicit backward move from a non-terminal state to
// any earlier point of the fulfillment path.
func (s OrderStatus) CanRevertTo(prev OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	from, to := s.position(), prev.position()
	return from > 0 && to >= 0 && to < from
}
