package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"bakery-service/internal/coupon"
	"bakery-service/internal/models"
	"bakery-service/internal/service"
	"bakery-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderAPI is the order lifecycle as seen by HTTP callers
type OrderAPI interface {
	CreateOrder(ctx context.Context, caller service.Caller, req *service.CreateOrderRequest) (*service.OrderView, error)
	ConfirmPayment(ctx context.Context, caller service.Caller, orderID int64, proofURL string) (*service.OrderView, error)
	Cancel(ctx context.Context, caller service.Caller, orderID int64, reason string) (*service.OrderView, error)
	Advance(ctx context.Context, caller service.Caller, orderID int64, state string) (*service.OrderView, error)
	Revert(ctx context.Context, caller service.Caller, orderID int64, state string) (*service.OrderView, error)
	GetOrder(ctx context.Context, caller service.Caller, orderID int64) (*service.OrderView, error)
	ListOrders(ctx context.Context, caller service.Caller, all bool) ([]*service.OrderView, error)
}

type AvailabilityAPI interface {
	CheckAvailability(ctx context.Context, items []service.AvailabilityRequest) (map[int64]int64, error)
	ProductAvailability(ctx context.Context, productID int64) (int64, error)
}

type CouponAPI interface {
	Validate(ctx context.Context, code string) (coupon.Accepted, error)
}

type InventoryAPI interface {
	RecordPurchase(ctx context.Context, eventID string, ingredientID int64, amount decimal.Decimal) error
	SetRecipe(ctx context.Context, caller service.Caller, productID int64, lines []service.RecipeLineRequest) (*models.Product, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders       OrderAPI
	availability AvailabilityAPI
	coupons      CouponAPI
	inventory    InventoryAPI
	readiness    map[string]Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. readiness lists the dependencies
// /ready pings; nil entries are skipped.
func NewHandler(orders OrderAPI, availability AvailabilityAPI, coupons CouponAPI, inventory InventoryAPI, readiness map[string]Pinger) *Handler {
	return &Handler{
		orders:       orders,
		availability: availability,
		coupons:      coupons,
		inventory:    inventory,
		readiness:    readiness,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(identity())
	{
		v1.POST("/availability/check", h.checkAvailability)
		v1.GET("/products/:id/availability", h.productAvailability)
		v1.POST("/coupons/validate", h.validateCoupon)

		orders := v1.Group("/orders", requireUser())
		orders.POST("", h.createOrder)
		orders.GET("", h.listOrders)
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/confirmPayment", h.confirmPayment)
		orders.DELETE("/:id/cancel", h.cancelOrder)
		orders.PUT("/:id/state", adminOnly(), h.advanceOrder)
		orders.PUT("/:id/revert", adminOnly(), h.revertOrder)

		v1.PUT("/products/:id/recipe", requireUser(), adminOnly(), h.setRecipe)
		v1.POST("/ingredients/:id/purchases", requireUser(), adminOnly(), h.recordPurchase)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency and reports which are down
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.readiness {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type availabilityCheckRequest struct {
	Items []service.AvailabilityRequest `json:"items" binding:"required"`
}

func (h *Handler) checkAvailability(c *gin.Context) {
	var req availabilityCheckRequest
	if !bindJSON(c, &req) {
		return
	}

	avail, err := h.availability.CheckAvailability(c.Request.Context(), req.Items)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"realAvailability": avail})
}

func (h *Handler) productAvailability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	n, err := h.availability.ProductAvailability(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"productId": id, "available": n})
}

type couponRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) validateCoupon(c *gin.Context) {
	var req couponRequest
	if !bindJSON(c, &req) {
		return
	}

	accepted, err := h.coupons.Validate(c.Request.Context(), req.Code)
	if err != nil {
		h.writeCouponError(c, err)
		return
	}
	c.JSON(http.StatusOK, accepted)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.CreateOrder(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) listOrders(c *gin.Context) {
	all := c.Query("all") == "true"

	orders, err := h.orders.ListOrders(c.Request.Context(), callerFrom(c), all)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type confirmPaymentRequest struct {
	ProofURL string `json:"proofUrl" binding:"required"`
}

func (h *Handler) confirmPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.ConfirmPayment(c.Request.Context(), callerFrom(c), id, req.ProofURL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	caller := callerFrom(c)
	reason := "customer"
	if caller.Admin {
		reason = "admin"
	}
	order, err := h.orders.Cancel(c.Request.Context(), caller, id, reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

func (h *Handler) advanceOrder(c *gin.Context) {
	h.moveOrder(c, h.orders.Advance)
}

func (h *Handler) revertOrder(c *gin.Context) {
	h.moveOrder(c, h.orders.Revert)
}

func (h *Handler) moveOrder(c *gin.Context,
	move func(context.Context, service.Caller, int64, string) (*service.OrderView, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req stateRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := move(c.Request.Context(), callerFrom(c), id, req.State)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type recipeRequest struct {
	Lines []service.RecipeLineRequest `json:"lines" binding:"required"`
}

func (h *Handler) setRecipe(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req recipeRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.inventory.SetRecipe(c.Request.Context(), callerFrom(c), id, req.Lines)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

type purchaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) recordPurchase(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	eventID := c.GetHeader("Idempotency-Key")
	if err := h.inventory.RecordPurchase(c.Request.Context(), eventID, id, req.Amount); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ingredientId": id, "amount": req.Amount})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
