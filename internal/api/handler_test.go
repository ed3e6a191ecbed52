package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bakery-service/internal/apperr"
	"bakery-service/internal/ledger"
	"bakery-service/internal/models"
	"bakery-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubOrders returns err when set, otherwise a pending order and records the
// caller it was given.
type stubOrders struct {
	err    error
	caller service.Caller
	req    *service.CreateOrderRequest
	state  string
	all    bool
}

func (s *stubOrders) view(id int64) (*service.OrderView, error) {
	if s.err != nil {
		return nil, s.err
	}
	o := &models.Order{ID: id, UserID: s.caller.UserID, Status: models.OrderStatusPendingPayment, ReferenceCode: "PAN-ABCD1234", Total: decimal.RequireFromString("25")}
	return &service.OrderView{Order: o, PaymentInstructions: &models.PaymentInstructions{Phone: "8888-0000", Amount: o.Total, ReferenceCode: o.ReferenceCode}}, nil
}

func (s *stubOrders) CreateOrder(ctx context.Context, caller service.Caller, req *service.CreateOrderRequest) (*service.OrderView, error) {
	s.caller, s.req = caller, req
	return s.view(1)
}

func (s *stubOrders) ConfirmPayment(ctx context.Context, caller service.Caller, id int64, proofURL string) (*service.OrderView, error) {
	s.caller = caller
	return s.view(id)
}

func (s *stubOrders) Cancel(ctx context.Context, caller service.Caller, id int64, reason string) (*service.OrderView, error) {
	s.caller = caller
	return s.view(id)
}

func (s *stubOrders) Advance(ctx context.Context, caller service.Caller, id int64, state string) (*service.OrderView, error) {
	s.caller, s.state = caller, state
	return s.view(id)
}

func (s *stubOrders) Revert(ctx context.Context, caller service.Caller, id int64, state string) (*service.OrderView, error) {
	s.caller, s.state = caller, "revert:"+state
	return s.view(id)
}

func (s *stubOrders) GetOrder(ctx context.Context, caller service.Caller, id int64) (*service.OrderView, error) {
	s.caller = caller
	return s.view(id)
}

func (s *stubOrders) ListOrders(ctx context.Context, caller service.Caller, all bool) ([]*service.OrderView, error) {
	s.caller, s.all = caller, all
	v, err := s.view(1)
	if err != nil {
		return nil, err
	}
	return []*service.OrderView{v}, nil
}

type mapCoupons map[string]*models.Coupon

func (m mapCoupons) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return m[code], nil
}

type stubInventory struct {
	eventID string
	amount  decimal.Decimal
}

func (s *stubInventory) RecordPurchase(ctx context.Context, eventID string, ingredientID int64, amount decimal.Decimal) error {
	s.eventID, s.amount = eventID, amount
	return nil
}

func (s *stubInventory) SetRecipe(ctx context.Context, caller service.Caller, productID int64, lines []service.RecipeLineRequest) (*models.Product, error) {
	return &models.Product{ID: productID}, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router    *gin.Engine
	orders    *stubOrders
	inventory *stubInventory
}

func newTestServer(t *testing.T, readiness map[string]Pinger) *testServer {
	t.Helper()

	l := ledger.NewMemory()
	l.PutIngredient(models.Ingredient{ID: 1, Name: "flour", Unit: "kg", StockOnHand: decimal.RequireFromString("10")})
	l.PutProduct(models.Product{ID: 10, Name: "Cake", Price: decimal.RequireFromString("12.5"), StockOnHand: 100, Active: true,
		Recipe: []models.RecipeLine{{ProductID: 10, IngredientID: 1, QuantityPerUnit: decimal.RequireFromString("2")}}})

	coupons := service.NewCouponService(mapCoupons{
		"PAN10": {ID: 1, Code: "PAN10", DiscountPct: decimal.RequireFromString("10"), Active: true},
		"OFF":   {ID: 2, Code: "OFF", DiscountPct: decimal.RequireFromString("10")},
	}, nil)

	ts := &testServer{router: gin.New(), orders: &stubOrders{}, inventory: &stubInventory{}}
	h := NewHandler(ts.orders, service.NewAvailabilityService(l), coupons, ts.inventory, readiness)
	h.SetupRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

var (
	customer = map[string]string{"X-User-Id": "alice"}
	operator = map[string]string{"X-User-Id": "ops", "X-User-Role": "admin"}
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, map[string]Pinger{"postgres": pingFunc(func(ctx context.Context) error { return nil })})
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/ready", "", nil).Code)

	down := newTestServer(t, map[string]Pinger{
		"redis": pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		"kafka": nil,
	})
	w := down.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestCheckAvailability(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/availability/check",
		`{"items":[{"productId":10,"requestedQty":7},{"productId":99,"requestedQty":1}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RealAvailability map[int64]int64 `json:"realAvailability"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[int64]int64{10: 5, 99: 0}, body.RealAvailability)

	w = ts.do(http.MethodGet, "/api/v1/products/10/availability", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["available"])

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/products/99/availability", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/products/abc/availability", "", nil).Code)
}

func TestValidateCoupon(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/v1/coupons/validate", `{"code":"pan10"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PAN10", decode(t, w)["code"])

	w = ts.do(http.MethodPost, "/api/v1/coupons/validate", `{"code":"OFF"}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "INACTIVE", decode(t, w)["reason"])

	w = ts.do(http.MethodPost, "/api/v1/coupons/validate", `{"code":"NOPE"}`, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["reason"])
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	body := `{"items":[{"productId":10,"qty":2}],"couponCode":"PAN10","delivery":{"phone":"8888-1234","address":"San Jose"}}`

	w := ts.do(http.MethodPost, "/api/v1/orders", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/orders", body, map[string]string{"X-User-Id": "alice", "Idempotency-Key": "k-1"})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, "alice", ts.orders.caller.UserID)
	assert.Equal(t, "k-1", ts.orders.req.IdempotencyKey)
	assert.Equal(t, int64(2), ts.orders.req.Items[0].Quantity)
	assert.Equal(t, "San Jose", ts.orders.req.Delivery.Address)

	order := decode(t, w)["order"].(map[string]interface{})
	assert.Equal(t, "PENDING_PAYMENT", order["state"])
	instructions := order["paymentInstructions"].(map[string]interface{})
	assert.Equal(t, "PAN-ABCD1234", instructions["referenceCode"])

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/v1/orders", `{"items":`, customer).Code)
}

func TestErrorMapping(t *testing.T) {
	ingredient := int64(1)
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{"validation", apperr.Invalid("qty", "must be positive"), http.StatusBadRequest, nil},
		{"not found", apperr.NotFound("product", 9), http.StatusNotFound, nil},
		{"stock conflict", &apperr.StockConflictError{Conflicts: []apperr.Conflict{
			{ProductID: 10, IngredientID: &ingredient, Requested: 6, Available: 5},
		}}, http.StatusConflict, func(t *testing.T, body map[string]interface{}) {
			conflicts := body["conflicts"].([]interface{})
			require.Len(t, conflicts, 1)
			c := conflicts[0].(map[string]interface{})
			assert.Equal(t, float64(10), c["productId"])
			assert.Equal(t, float64(1), c["ingredientId"])
			assert.Equal(t, float64(6), c["requested"])
			assert.Equal(t, float64(5), c["available"])
		}},
		{"invalid transition", &apperr.InvalidTransitionError{OrderID: 1, From: "CONFIRMED", To: "CANCELED"}, http.StatusConflict, nil},
		{"coupon rejected", &apperr.CouponRejectedError{Code: "OLD", Reason: apperr.CouponExpired}, http.StatusBadRequest,
			func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "EXPIRED", body["reason"])
			}},
		{"forbidden", &apperr.ForbiddenError{Message: "not yours"}, http.StatusForbidden, nil},
		{"in progress", service.ErrRequestInProgress, http.StatusConflict, nil},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.orders.err = tt.err

			w := ts.do(http.MethodPost, "/api/v1/orders",
				`{"items":[{"productId":10,"qty":6}],"delivery":{"phone":"1","address":"a"}}`, customer)
			assert.Equal(t, tt.status, w.Code)
			if tt.check != nil {
				tt.check(t, decode(t, w))
			}
		})
	}
}

func TestOrderLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/orders/7", "", customer).Code)
	assert.Equal(t, http.StatusOK,
		ts.do(http.MethodPost, "/api/v1/orders/7/confirmPayment", `{"proofUrl":"https://x.example/p.png"}`, customer).Code)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/api/v1/orders/7/confirmPayment", `{}`, customer).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/api/v1/orders/7/cancel", "", customer).Code)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPut, "/api/v1/orders/7/state", `{"state":"IN_PRODUCTION"}`, customer).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/api/v1/orders/7/state", `{"state":"IN_PRODUCTION"}`, operator).Code)
	assert.Equal(t, "IN_PRODUCTION", ts.orders.state)
	assert.True(t, ts.orders.caller.Admin)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/api/v1/orders/7/revert", `{"state":"CONFIRMED"}`, operator).Code)
	assert.Equal(t, "revert:CONFIRMED", ts.orders.state)

	w := ts.do(http.MethodGet, "/api/v1/orders?all=true", "", operator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ts.orders.all)
	assert.Len(t, decode(t, w)["orders"], 1)
}

func TestAdminInventoryRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusForbidden,
		ts.do(http.MethodPost, "/api/v1/ingredients/1/purchases", `{"amount":"12.5"}`, customer).Code)

	headers := map[string]string{"X-User-Id": "ops", "X-User-Role": "admin", "Idempotency-Key": "po-77"}
	w := ts.do(http.MethodPost, "/api/v1/ingredients/1/purchases", `{"amount":"12.5"}`, headers)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "po-77", ts.inventory.eventID)
	assert.True(t, ts.inventory.amount.Equal(decimal.RequireFromString("12.5")))

	w = ts.do(http.MethodPut, "/api/v1/products/10/recipe",
		`{"lines":[{"ingredientId":1,"quantityPerUnit":"2"}]}`, operator)
	assert.Equal(t, http.StatusOK, w.Code)
}
