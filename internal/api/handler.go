package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/monitor"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Locker serializes webhook application per order and deduplicates
// caller-supplied webhook ids. *redisclient.Client implements it.
type Locker interface {
	AcquireOrderLock(ctx context.Context, orderRef string, ttl time.Duration) (bool, error)
	ReleaseOrderLock(ctx context.Context, orderRef string) error
	MarkWebhookSeen(ctx context.Context, source, webhookID string, ttl time.Duration) (bool, error)
}

// EventLister serves the admin webhook-event queries. *store.Store
// implements it.
type EventLister interface {
	ListWebhookEvents(ctx context.Context, f store.WebhookEventFilter) ([]models.WebhookEvent, int64, error)
}

// Handler contains HTTP handlers
type Handler struct {
	orders   *service.OrderService
	payments *service.PaymentService
	shipping *service.ShippingService
	monitor  *monitor.WebhookMonitor
	events   EventLister
	locks    Locker

	carrierWebhookSecret string
	retentionDays        int
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	shipping *service.ShippingService,
	mon *monitor.WebhookMonitor,
	events EventLister,
	locks Locker,
	cfg *config.Config,
) *Handler {
	return &Handler{
		orders:               orders,
		payments:             payments,
		shipping:             shipping,
		monitor:              mon,
		events:               events,
		locks:                locks,
		carrierWebhookSecret: cfg.Carrier.WebhookSecret,
		retentionDays:        cfg.Monitor.RetentionDays,
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
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.GET("/orders/:id/payment", h.getPaymentStatus)
		v1.POST("/orders/:id/retry-payment", h.retryPayment)
	}

	webhooks := router.Group("/webhooks")
	{
		// The gateway delivers IPNs as GET query strings; POST is accepted
		// for manual replays.
		webhooks.GET("/payment/ipn", h.paymentIPN)
		webhooks.POST("/payment/ipn", h.paymentIPN)
		// Legacy route kept for gateway configs registered under the old path.
		webhooks.GET("/payment/vnpay-ipn", h.paymentIPN)
		webhooks.POST("/payment/vnpay-ipn", h.paymentIPN)
		webhooks.POST("/shipping/status-update", h.carrierStatusUpdate)
	}

	admin := router.Group("/admin/webhooks")
	{
		admin.GET("/metrics", h.webhookMetrics)
		admin.GET("/events", h.webhookEvents)
		admin.GET("/health", h.webhookHealth)
		admin.GET("/export", h.webhookExport)
		admin.POST("/cleanup", h.webhookCleanup)
		admin.POST("/reset", h.webhookReset)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.ClientIP = c.ClientIP()

	res, err := h.orders.CreateCompleteOrder(c.Request.Context(), &req)

	var shipErr *service.ShipmentCreateError
	if errors.As(err, &shipErr) {
		// Order and payment committed; shipment creation is retried in the
		// background.
		c.JSON(http.StatusCreated, gin.H{
			"order":            res.Order,
			"items":            res.Items,
			"payment":          res.Payment,
			"redirect_url":     res.RedirectURL,
			"shipping":         res.Shipping,
			"shipment_pending": true,
		})
		return
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	res, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

// listOrders handles listing a user's orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter is required"})
		return
	}

	orders, err := h.orders.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// updateOrderStatus applies one order state transition
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var body struct {
		Status models.OrderStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.UpdateOrderStatus(c.Request.Context(), orderID, body.Status)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// cancelOrder handles customer-initiated cancellation
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// getPaymentStatus returns the latest payment and its retry eligibility
func (h *Handler) getPaymentStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	status, err := h.orders.CheckPaymentStatus(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// retryPayment replaces a failed or abandoned payment with a fresh one
func (h *Handler) retryPayment(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}

	var body struct {
		Method models.PaymentMethod `json:"method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	payment, redirectURL, err := h.orders.RetryPayment(c.Request.Context(), orderID, body.Method, c.ClientIP())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment":      payment,
		"redirect_url": redirectURL,
	})
}

// renderError maps service errors onto HTTP statuses: validation to 422,
// state conflicts to 409, everything else to 500.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrPriceMismatch),
		errors.Is(err, service.ErrVoucherInvalid),
		errors.Is(err, service.ErrDiscountMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPaymentRequired),
		errors.Is(err, service.ErrPaymentNotRetryable),
		errors.Is(err, service.ErrOrderNotCancellable),
		errors.Is(err, service.ErrRefundIneligible):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
}

func orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return orderID, true
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
