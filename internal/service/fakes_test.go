package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"
	"bakery-service/internal/store"

	"github.com/shopspring/decimal"
)

// fakeOrders keeps orders in memory and releases reservations into the
// shared Memory ledger on cancel, mirroring the store's single transaction.
type fakeOrders struct {
	mu        sync.Mutex
	ledger    *ledger.Memory
	orders    map[int64]*models.Order
	nextID    int64
	createErr error
	refs      map[string]bool
	takenRefs int
}

func newFakeOrders(l *ledger.Memory) *fakeOrders {
	return &fakeOrders{ledger: l, orders: make(map[int64]*models.Order), refs: make(map[string]bool)}
}

func clone(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	c.Reservation = append([]models.ReservationEntry(nil), o.Reservation...)
	return &c
}

func (f *fakeOrders) CreateOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	if f.takenRefs > 0 {
		f.takenRefs--
		return store.ErrDuplicateReference
	}
	if f.refs[order.ReferenceCode] {
		return store.ErrDuplicateReference
	}
	if order.IdempotencyKey != nil {
		for _, o := range f.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}

	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.refs[order.ReferenceCode] = true
	f.orders[order.ID] = clone(order)
	return nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return clone(o), nil
}

func (f *fakeOrders) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return clone(o), nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if userID == "" || o.UserID == userID {
			out = append(out, *clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeOrders) TransitionOrder(ctx context.Context, id int64, apply func(*models.Order) error) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	next := clone(o)
	if err := apply(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	f.orders[id] = next
	return clone(next), nil
}

func (f *fakeOrders) CancelOrder(ctx context.Context, id int64, check func(*models.Order) error) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	if err := check(clone(o)); err != nil {
		return nil, err
	}
	if len(o.Reservation) > 0 {
		if err := f.ledger.Release(ctx, ledger.FromReservation(o.Reservation)); err != nil {
			return nil, err
		}
	}
	o.Status = models.OrderStatusCanceled
	o.UpdatedAt = time.Now()
	return clone(o), nil
}

func (f *fakeOrders) ListStalePending(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, o := range f.orders {
		if o.Status == models.OrderStatusPendingPayment && o.CreatedAt.Before(before) {
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeOrders) backdate(id int64, by time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[id].CreatedAt = f.orders[id].CreatedAt.Add(-by)
}

type fakeCoupons map[string]*models.Coupon

func (f fakeCoupons) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return f[code], nil
}

// fakeCatalog reads products and ingredients from the Memory ledger.
type fakeCatalog struct {
	ledger      *ledger.Memory
	ingredients map[int64]models.Ingredient
	saved       map[int64][]models.RecipeLine
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	snap, err := f.ledger.Snapshot(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	p, ok := snap.Products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	if lines, ok := f.saved[id]; ok {
		p.Recipe = lines
	}
	return &p, nil
}

func (f *fakeCatalog) GetIngredientsByIDs(ctx context.Context, ids []int64) (map[int64]models.Ingredient, error) {
	out := make(map[int64]models.Ingredient)
	for _, id := range ids {
		if ing, ok := f.ingredients[id]; ok {
			out[id] = ing
		}
	}
	return out, nil
}

func (f *fakeCatalog) ReplaceRecipe(ctx context.Context, productID int64, lines []models.RecipeLine) error {
	if f.saved == nil {
		f.saved = make(map[int64][]models.RecipeLine)
	}
	f.saved[productID] = lines
	return nil
}

type fakeEventLog struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeEventLog) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID], nil
}

func (f *fakeEventLog) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[eventID] = true
	return nil
}

// recordingPublisher collects event types; failing makes every publish error.
type recordingPublisher struct {
	mu      sync.Mutex
	types   []string
	failing bool
}

func (p *recordingPublisher) record(t string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, t)
	if p.failing {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderPaymentSubmitted(ctx context.Context, e *models.OrderPaymentSubmittedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCanceled(ctx context.Context, e *models.OrderCanceledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

// heldLocker reports every lock as held by someone else.
type heldLocker struct{}

func (heldLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

func (heldLocker) ReleaseLock(ctx context.Context, key, token string) error { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Catalog used across the service tests:
//
//	flour (1) 10 kg, sugar (2) 3 kg, water (3) unlimited, eggs (4) 12 unit
//	cake (10)   price 12.50, stock 100: flour 2, sugar 0.5, water 1
//	bread (11)  price 3.00,  stock 2:   flour 0.5, water 0.3
//	cookie (12) price 1.10,  stock 50:  flour 0.1, eggs 1
//	retired (13) inactive
const (
	flourID  int64 = 1
	sugarID  int64 = 2
	waterID  int64 = 3
	eggsID   int64 = 4
	cakeID   int64 = 10
	breadID  int64 = 11
	cookieID int64 = 12
	retireID int64 = 13
)

func seedLedger() *ledger.Memory {
	m := ledger.NewMemory()
	m.PutIngredient(models.Ingredient{ID: flourID, Name: "flour", Unit: "kg", StockOnHand: dec("10")})
	m.PutIngredient(models.Ingredient{ID: sugarID, Name: "sugar", Unit: "kg", StockOnHand: dec("3")})
	m.PutIngredient(models.Ingredient{ID: waterID, Name: "water", Unit: "l", Unlimited: true})
	m.PutIngredient(models.Ingredient{ID: eggsID, Name: "eggs", Unit: "unit", StockOnHand: dec("12")})

	m.PutProduct(models.Product{ID: cakeID, Name: "Cake", Price: dec("12.50"), StockOnHand: 100, Active: true,
		Recipe: []models.RecipeLine{
			{ProductID: cakeID, IngredientID: flourID, QuantityPerUnit: dec("2")},
			{ProductID: cakeID, IngredientID: sugarID, QuantityPerUnit: dec("0.5")},
			{ProductID: cakeID, IngredientID: waterID, QuantityPerUnit: dec("1")},
		}})
	m.PutProduct(models.Product{ID: breadID, Name: "Bread", Price: dec("3.00"), StockOnHand: 2, Active: true,
		Recipe: []models.RecipeLine{
			{ProductID: breadID, IngredientID: flourID, QuantityPerUnit: dec("0.5")},
			{ProductID: breadID, IngredientID: waterID, QuantityPerUnit: dec("0.3")},
		}})
	m.PutProduct(models.Product{ID: cookieID, Name: "Cookie", Price: dec("1.10"), StockOnHand: 50, Active: true,
		Recipe: []models.RecipeLine{
			{ProductID: cookieID, IngredientID: flourID, QuantityPerUnit: dec("0.1")},
			{ProductID: cookieID, IngredientID: eggsID, QuantityPerUnit: dec("1")},
		}})
	m.PutProduct(models.Product{ID: retireID, Name: "Retired", Price: dec("5"), StockOnHand: 10, Active: false})
	return m
}
