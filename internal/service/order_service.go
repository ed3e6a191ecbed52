package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/availability"
	"bakery-service/internal/broker"
	"bakery-service/internal/coupon"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"
	"bakery-service/internal/store"
	"bakery-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrRequestInProgress is returned when another request with the same
// idempotency key is still being processed.
var ErrRequestInProgress = errors.New("an order with this idempotency key is already being processed")

const (
	maxReferenceAttempts = 5
	idempotencyLockTTL   = 30 * time.Second
	expiryBatchSize      = 100
)

// OrderServiceConfig carries the store settings the lifecycle needs
type OrderServiceConfig struct {
	Location        *time.Location
	PayeePhone      string
	PayeeName       string
	PayeeID         string
	ReferencePrefix string
	ReserveTimeout  time.Duration
	OrderTimeout    time.Duration
}

// OrderService drives orders from reservation through fulfillment
type OrderService struct {
	ledger    ledger.Ledger
	orders    OrderRepository
	coupons   CouponRepository
	publisher EventPublisher
	locker    Locker
	cfg       OrderServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service. publisher and locker may be nil.
func NewOrderService(
	l ledger.Ledger,
	orders OrderRepository,
	coupons CouponRepository,
	publisher EventPublisher,
	locker Locker,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ReserveTimeout <= 0 {
		cfg.ReserveTimeout = 5 * time.Second
	}
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = "PAN"
	}
	return &OrderService{
		ledger:    l,
		orders:    orders,
		coupons:   coupons,
		publisher: publisher,
		locker:    locker,
		cfg:       cfg,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items          []OrderItemRequest `json:"items" binding:"required"`
	CouponCode     string             `json:"couponCode,omitempty"`
	Delivery       DeliveryRequest    `json:"delivery"`
	IdempotencyKey string             `json:"-"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"qty"`
}

type DeliveryRequest struct {
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes,omitempty"`
}

// OrderView is an order as returned to callers. Payment instructions are
// attached while the order still waits for payment.
type OrderView struct {
	*models.Order
	PaymentInstructions *models.PaymentInstructions `json:"paymentInstructions,omitempty"`
}

// CreateOrder reserves stock for every line atomically and persists the order
// in PENDING_PAYMENT. Nothing is reserved when validation or the coupon fails,
// and a persistence failure releases the reservation before returning.
func (s *OrderService) CreateOrder(ctx context.Context, caller Caller, req *CreateOrderRequest) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	items, err := validateCreateOrder(caller, req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	var idemKey *string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		scoped := caller.UserID + ":" + key
		idemKey = &scoped

		if existing, err := s.findReplay(ctx, scoped); err != nil || existing != nil {
			return existing, err
		}
		release, err := s.lock(ctx, "order:"+scoped)
		if err != nil {
			return nil, err
		}
		defer release()
		if existing, err := s.findReplay(ctx, scoped); err != nil || existing != nil {
			return existing, err
		}
	}

	accepted, err := s.resolveCoupon(ctx, req.CouponCode)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("coupon_rejected").Inc()
		return nil, err
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	snap, err := s.ledger.Snapshot(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, it := range items {
		if p, ok := snap.Products[it.ProductID]; !ok || !p.Active {
			util.OrdersFailedTotal.WithLabelValues("unknown_product").Inc()
			return nil, apperr.NotFound("product", it.ProductID)
		}
	}

	entries, err := availability.Demand(items, snap)
	if err != nil {
		return nil, err
	}

	if err := s.reserve(ctx, items, snap, entries); err != nil {
		return nil, err
	}

	order := buildOrder(caller, req, items, snap, accepted, entries)
	order.IdempotencyKey = idemKey

	if err := s.persist(ctx, order); err != nil {
		util.SpanError(span, err)
		s.compensateReservation(order, entries)
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) && idemKey != nil {
			return s.findReplay(ctx, *idemKey)
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("reference_code", order.ReferenceCode),
		zap.String("total", order.Total.StringFixed(2)))

	s.publishCreated(ctx, order)

	return s.view(order), nil
}

func validateCreateOrder(caller Caller, req *CreateOrderRequest) ([]availability.Item, error) {
	if caller.UserID == "" {
		return nil, apperr.Invalid("userId", "caller identity is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.Invalid("items", "at least one item is required")
	}
	if strings.TrimSpace(req.Delivery.Phone) == "" {
		return nil, apperr.Invalid("delivery.phone", "phone is required")
	}
	if strings.TrimSpace(req.Delivery.Address) == "" {
		return nil, apperr.Invalid("delivery.address", "address is required")
	}

	// Repeated products are merged into one line.
	merged := make(map[int64]int64, len(req.Items))
	order := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID <= 0 {
			return nil, apperr.Invalid("productId", "product id must be positive")
		}
		if it.Quantity <= 0 {
			return nil, apperr.Invalid("qty", "product %d: quantity must be positive", it.ProductID)
		}
		if _, seen := merged[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		merged[it.ProductID] += it.Quantity
	}

	items := make([]availability.Item, 0, len(order))
	for _, id := range order {
		items = append(items, availability.Item{ProductID: id, Quantity: merged[id]})
	}
	return items, nil
}

func (s *OrderService) findReplay(ctx context.Context, key string) (*OrderView, error) {
	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return s.view(existing), nil
}

// lock takes the idempotency lock. Without Redis the unique key column still
// rejects the duplicate, so a lock outage only logs.
func (s *OrderService) lock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	token, err := s.locker.AcquireLock(ctx, key, idempotencyLockTTL)
	if err != nil {
		s.logger.Warn("Idempotency lock unavailable, continuing without it", zap.String("key", key), zap.Error(err))
		return noop, nil
	}
	if token == "" {
		return nil, ErrRequestInProgress
	}
	return func() {
		if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
			s.logger.Warn("Failed to release idempotency lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *OrderService) resolveCoupon(ctx context.Context, code string) (*coupon.Accepted, error) {
	code = coupon.Canonicalize(code)
	if code == "" {
		return nil, nil
	}
	c, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	accepted, err := coupon.Validate(c, code, s.now(), s.cfg.Location)
	if err != nil {
		var rejected *apperr.CouponRejectedError
		if errors.As(err, &rejected) {
			util.CouponRejectionsTotal.WithLabelValues(string(rejected.Reason)).Inc()
		}
		return nil, err
	}
	return &accepted, nil
}

// reserve is the authoritative stock check. It runs under its own deadline;
// a timed out reservation leaves the ledger untouched.
func (s *OrderService) reserve(ctx context.Context, items []availability.Item, snap *ledger.Snapshot, entries []ledger.Entry) error {
	ctx, span := util.StartSpan(ctx, "OrderService.reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	rctx, cancel := context.WithTimeout(ctx, s.cfg.ReserveTimeout)
	defer cancel()

	err := s.ledger.TryReserve(rctx, entries)
	if err == nil {
		return nil
	}
	util.SpanError(span, err)

	var conflict *apperr.StockConflictError
	if errors.As(err, &conflict) {
		conflict.Conflicts = explainConflicts(items, snap, conflict.Entries)
		util.StockConflictsTotal.Inc()
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		s.logger.Info("Stock conflict", zap.Int("conflicts", len(conflict.Conflicts)))
		return conflict
	}
	util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
	return fmt.Errorf("failed to reserve stock: %w", err)
}

// explainConflicts maps ledger shortages back onto the ordered products.
// An ingredient shortage is reported on every ordered product that uses it,
// with how many units that ingredient alone could still cover.
func explainConflicts(items []availability.Item, snap *ledger.Snapshot, entries []apperr.LedgerConflict) []apperr.Conflict {
	out := make([]apperr.Conflict, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case apperr.KindProduct:
			for _, it := range items {
				if it.ProductID == e.ID {
					out = append(out, apperr.Conflict{
						ProductID: it.ProductID,
						Requested: it.Quantity,
						Available: wholeUnits(e.Available, decimal.NewFromInt(1)),
					})
				}
			}
		case apperr.KindIngredient:
			ingredientID := e.ID
			for _, it := range items {
				for _, line := range snap.Products[it.ProductID].Recipe {
					if line.IngredientID != ingredientID {
						continue
					}
					out = append(out, apperr.Conflict{
						ProductID:    it.ProductID,
						IngredientID: &ingredientID,
						Requested:    it.Quantity,
						Available:    wholeUnits(e.Available, line.QuantityPerUnit),
					})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func wholeUnits(stock, perUnit decimal.Decimal) int64 {
	if !stock.IsPositive() || !perUnit.IsPositive() {
		return 0
	}
	q, _ := stock.QuoRem(perUnit, 0)
	return q.IntPart()
}

var hundred = decimal.NewFromInt(100)

func buildOrder(caller Caller, req *CreateOrderRequest, items []availability.Item, snap *ledger.Snapshot,
	accepted *coupon.Accepted, entries []ledger.Entry) *models.Order {
	order := &models.Order{
		UserID: caller.UserID,
		Status: models.OrderStatusPendingPayment,
		Delivery: models.Delivery{
			Phone:   strings.TrimSpace(req.Delivery.Phone),
			Address: strings.TrimSpace(req.Delivery.Address),
			Notes:   strings.TrimSpace(req.Delivery.Notes),
		},
		Items:       make([]models.OrderItem, 0, len(items)),
		Reservation: ledger.ToReservation(entries),
	}

	subtotal := decimal.Zero
	for _, it := range items {
		price := snap.Products[it.ProductID].Price
		order.Items = append(order.Items, models.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: price,
		})
		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(it.Quantity)))
	}

	if accepted != nil {
		id, code := accepted.ID, accepted.Code
		order.CouponID = &id
		order.CouponCode = &code
		order.DiscountPct = accepted.DiscountPct
	}
	order.Subtotal = subtotal.Round(2)
	order.Total = OrderTotal(subtotal, order.DiscountPct)
	return order
}

// OrderTotal applies a percentage discount and rounds half-up to cents.
func OrderTotal(subtotal, discountPct decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(discountPct).Div(hundred)
	return subtotal.Mul(factor).Round(2)
}

func (s *OrderService) referenceCode() string {
	return fmt.Sprintf("%s-%s", s.cfg.ReferencePrefix, strings.ToUpper(uuid.NewString()[:8]))
}

func (s *OrderService) persist(ctx context.Context, order *models.Order) error {
	var err error
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		order.ReferenceCode = s.referenceCode()
		err = s.orders.CreateOrder(ctx, order)
		if !errors.Is(err, store.ErrDuplicateReference) {
			return err
		}
		s.logger.Warn("Reference code collision, regenerating", zap.String("reference_code", order.ReferenceCode))
	}
	return err
}

// compensateReservation releases a reservation whose order never got
// persisted. It runs detached from the request context, which may already be
// cancelled.
func (s *OrderService) compensateReservation(order *models.Order, entries []ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReserveTimeout)
	defer cancel()

	if err := s.ledger.Release(ctx, entries); err != nil {
		s.logger.Error("Failed to compensate reservation",
			zap.String("user_id", order.UserID),
			zap.Any("entries", entries),
			zap.Error(err))
	}
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     broker.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		ReferenceCode: order.ReferenceCode,
		Total:         order.Total,
		Items:         items,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *OrderService) view(order *models.Order) *OrderView {
	v := &OrderView{Order: order}
	if order.Status == models.OrderStatusPendingPayment {
		v.PaymentInstructions = &models.PaymentInstructions{
			Phone:         s.cfg.PayeePhone,
			PayeeName:     s.cfg.PayeeName,
			PayeeID:       s.cfg.PayeeID,
			Amount:        order.Total,
			ReferenceCode: order.ReferenceCode,
		}
	}
	return v
}

// ConfirmPayment attaches the payment proof and moves the order to CONFIRMED.
// Stock was reserved at creation and is not touched again.
func (s *OrderService) ConfirmPayment(ctx context.Context, caller Caller, orderID int64, proofURL string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()

	proofURL = strings.TrimSpace(proofURL)
	if u, err := url.ParseRequestURI(proofURL); err != nil || u.Host == "" {
		return nil, apperr.Invalid("proofUrl", "a valid proof url is required")
	}

	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *models.Order) error {
		if err := caller.owns(o); err != nil {
			return err
		}
		if !o.Status.CanConfirmPayment() {
			return &apperr.InvalidTransitionError{OrderID: o.ID, From: string(o.Status), To: string(models.OrderStatusConfirmed)}
		}
		o.Status = models.OrderStatusConfirmed
		o.PaymentProofURL = &proofURL
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersConfirmedTotal.Inc()
	s.logger.Info("Payment proof attached", zap.Int64("order_id", order.ID))

	if s.publisher != nil {
		event := &models.OrderPaymentSubmittedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeOrderPaymentSubmitted),
			OrderID:   order.ID,
			ProofURL:  proofURL,
		}
		if err := s.publisher.PublishOrderPaymentSubmitted(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderPaymentSubmitted event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return s.view(order), nil
}

// Cancel releases exactly the stock reserved at creation and marks the order
// CANCELED. Only orders waiting for payment can be canceled.
func (s *OrderService) Cancel(ctx context.Context, caller Caller, orderID int64, reason string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.orders.CancelOrder(ctx, orderID, func(o *models.Order) error {
		if err := caller.owns(o); err != nil {
			return err
		}
		if !o.Status.CanCancel() {
			return &apperr.InvalidTransitionError{OrderID: o.ID, From: string(o.Status), To: string(models.OrderStatusCanceled)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.WithLabelValues(reason).Inc()
	s.logger.Info("Order canceled", zap.Int64("order_id", order.ID), zap.String("reason", reason))

	if s.publisher != nil {
		event := &models.OrderCanceledEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeOrderCanceled),
			OrderID:   order.ID,
			Reason:    reason,
		}
		if err := s.publisher.PublishOrderCanceled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCanceled event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return s.view(order), nil
}

// Advance moves a paid order one step forward along
// CONFIRMED -> IN_PRODUCTION -> READY_FOR_PICKUP -> DELIVERED.
func (s *OrderService) Advance(ctx context.Context, caller Caller, orderID int64, state string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Advance")
	defer span.End()

	return s.move(ctx, caller, orderID, state, models.OrderStatus.CanAdvanceTo)
}

// Revert moves a non-terminal order back to an earlier fulfillment state.
func (s *OrderService) Revert(ctx context.Context, caller Caller, orderID int64, state string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Revert")
	defer span.End()

	return s.move(ctx, caller, orderID, state, models.OrderStatus.CanRevertTo)
}

func (s *OrderService) move(ctx context.Context, caller Caller, orderID int64, state string,
	allowed func(models.OrderStatus, models.OrderStatus) bool) (*OrderView, error) {
	if err := caller.requireAdmin(); err != nil {
		return nil, err
	}
	to, ok := models.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(state)))
	if !ok {
		return nil, apperr.Invalid("state", "unknown order state %q", state)
	}

	var from models.OrderStatus
	order, err := s.orders.TransitionOrder(ctx, orderID, func(o *models.Order) error {
		if !allowed(o.Status, to) {
			return &apperr.InvalidTransitionError{OrderID: o.ID, From: string(o.Status), To: string(to)}
		}
		from = o.Status
		o.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(to)).Inc()
	s.logger.Info("Order state changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", caller.UserID))

	if s.publisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:   order.ID,
			From:      from,
			To:        to,
		}
		if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return s.view(order), nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, caller Caller, orderID int64) (*OrderView, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := caller.owns(order); err != nil {
		return nil, err
	}
	return s.view(order), nil
}

// ListOrders lists the caller's orders; administrators may list everyone's.
func (s *OrderService) ListOrders(ctx context.Context, caller Caller, all bool) ([]*OrderView, error) {
	userID := caller.UserID
	if all {
		if err := caller.requireAdmin(); err != nil {
			return nil, err
		}
		userID = ""
	}
	orders, err := s.orders.ListOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, s.view(&orders[i]))
	}
	return views, nil
}

// ExpireStale cancels orders left in PENDING_PAYMENT longer than the order
// timeout. Orders paid in the meantime are skipped.
func (s *OrderService) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireStale")
	defer span.End()

	if s.cfg.OrderTimeout <= 0 {
		return 0, nil
	}
	ids, err := s.orders.ListStalePending(ctx, s.now().Add(-s.cfg.OrderTimeout), expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		_, err := s.Cancel(ctx, SystemCaller, id, "expired")
		var invalid *apperr.InvalidTransitionError
		switch {
		case err == nil:
			expired++
		case errors.As(err, &invalid):
			continue
		default:
			s.logger.Error("Failed to expire order", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	return expired, nil
}
