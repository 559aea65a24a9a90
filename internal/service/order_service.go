package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService is the saga orchestrator: it creates order, payment and
// shipment together, reconciles state from callbacks, and owns the order
// status transition side effects.
type OrderService struct {
	store          OrderRepository
	payments       *PaymentService
	shipping       *ShippingService
	notifier       Notifier
	logger         *zap.Logger
	now            func() time.Time
	priceTolerance float64
}

// NewOrderService creates a new order service
func NewOrderService(
	store OrderRepository,
	payments *PaymentService,
	shipping *ShippingService,
	notifier Notifier,
	priceTolerance float64,
) *OrderService {
	if priceTolerance <= 0 {
		priceTolerance = 0.01
	}
	return &OrderService{
		store:          store,
		payments:       payments,
		shipping:       shipping,
		notifier:       notifier,
		logger:         util.GetLogger(),
		now:            time.Now,
		priceTolerance: priceTolerance,
	}
}

// CreateOrderRequest represents a request to create a complete order
type CreateOrderRequest struct {
	UserID        int64                `json:"user_id" binding:"required"`
	Items         []OrderItemRequest   `json:"items" binding:"required,min=1"`
	PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	Address       ShippingAddress      `json:"address" binding:"required"`
	VoucherCode   string               `json:"voucher_code,omitempty"`
	// Discount is the client's view of the voucher discount; the server
	// recomputes it and rejects a mismatch.
	Discount float64 `json:"discount"`
	ClientIP string  `json:"-"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	UnitPrice float64 `json:"unit_price" binding:"required"`
}

// CreateOrderResult is the outcome of the order-creation saga. When shipment
// creation failed after the order committed, Order and Payment are still set
// and the caller receives a *ShipmentCreateError alongside.
type CreateOrderResult struct {
	Order       *models.Order      `json:"order"`
	Items       []models.OrderItem `json:"items"`
	Payment     *models.Payment    `json:"payment"`
	RedirectURL string             `json:"redirect_url,omitempty"`
	Shipping    *models.Shipping   `json:"shipping,omitempty"`
}

// CreateCompleteOrder runs the order-creation saga: validate items and
// voucher, quote the delivery fee, commit order+items+payment+stock+voucher
// +shipping snapshot in one transaction, then register the shipment with the
// carrier outside that transaction. A carrier failure after the commit does
// not roll anything back; the order stays PENDING and the outbox sweep
// retries the shipment.
func (s *OrderService) CreateCompleteOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateCompleteOrder")
	defer span.End()

	products, err := s.validateItems(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	subtotal := 0.0
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		p := products[it.ProductID]
		subtotal += p.Price * float64(it.Quantity)
		items = append(items, models.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			SKU:         p.SKU,
			UnitPrice:   p.Price,
			Quantity:    it.Quantity,
			WeightGrams: p.WeightGrams,
		})
	}

	voucher, discount, err := s.validateVoucher(ctx, req, subtotal)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_voucher").Inc()
		return nil, err
	}

	shippingFee, err := s.shipping.QuoteFee(ctx, req.Address, items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("fee_quote").Inc()
		return nil, fmt.Errorf("failed to quote shipping fee: %w", err)
	}

	total := subtotal + shippingFee - discount
	if total < 0 {
		total = 0
	}

	order := &models.Order{
		OrderNumber: s.newOrderNumber(),
		UserID:      req.UserID,
		Status:      models.OrderStatusPending,
		Subtotal:    subtotal,
		ShippingFee: shippingFee,
		Discount:    discount,
		Total:       total,
	}
	if voucher != nil {
		order.VoucherID = &voucher.ID
	}

	payment := &models.Payment{
		Method: req.PaymentMethod,
		Status: InitialStatus(req.PaymentMethod),
		Amount: total,
	}

	sh := &models.Shipping{
		Status:         models.ShippingStatusPending,
		Fee:            shippingFee,
		WeightGrams:    totalWeight(items),
		RecipientName:  req.Address.RecipientName,
		RecipientPhone: req.Address.RecipientPhone,
		AddressLine:    req.Address.AddressLine,
		WardCode:       req.Address.WardCode,
		DistrictID:     req.Address.DistrictID,
		ProvinceID:     req.Address.ProvinceID,
	}

	if err := s.store.CreateOrderAtomic(ctx, order, items, payment, sh); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Float64("total", order.Total))

	if err := s.notifier.PublishOrderCreated(ctx, order); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	result := &CreateOrderResult{
		Order:    order,
		Items:    items,
		Payment:  payment,
		Shipping: sh,
	}

	if req.PaymentMethod == models.PaymentMethodGateway {
		result.RedirectURL, err = s.payments.BuildRedirectURL(order, req.ClientIP)
		if err != nil {
			// The order is committed; surface the gateway failure but leave
			// the payment retryable.
			s.logger.Error("Failed to build payment URL", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	// Carrier call is outside the transaction. On failure the outbox intent
	// stays pending for the sweep.
	if err := s.shipping.RegisterWithCarrier(ctx, order, items, sh); err != nil {
		s.logger.Error("Shipment creation failed after order commit",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		if ierr := s.store.RecordShipmentIntentFailure(ctx, order.ID, err.Error()); ierr != nil {
			s.logger.Error("Failed to record shipment intent failure", zap.Error(ierr))
		}
		return result, &ShipmentCreateError{OrderID: order.ID, Err: err}
	}

	if err := s.store.MarkShipmentIntentDone(ctx, order.ID, s.now()); err != nil {
		s.logger.Error("Failed to close shipment intent", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return result, nil
}

// validateItems checks every line item against current catalog stock and
// price. Prices must match within the configured tolerance.
func (s *OrderService) validateItems(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("product not found: %d", it.ProductID)
		}
		if p.Stock < it.Quantity {
			return nil, fmt.Errorf("%w: product %d has %d, requested %d",
				ErrInsufficientStock, p.ID, p.Stock, it.Quantity)
		}
		if math.Abs(p.Price-it.UnitPrice) > s.priceTolerance {
			return nil, fmt.Errorf("%w: product %d is %.2f, requested %.2f",
				ErrPriceMismatch, p.ID, p.Price, it.UnitPrice)
		}
	}

	return byID, nil
}

// validateVoucher loads and validates the optional voucher, recomputing the
// discount server-side. The caller's discount must match within tolerance.
func (s *OrderService) validateVoucher(ctx context.Context, req *CreateOrderRequest, subtotal float64) (*models.Voucher, float64, error) {
	if req.VoucherCode == "" {
		if req.Discount > s.priceTolerance {
			return nil, 0, fmt.Errorf("%w: discount without voucher", ErrDiscountMismatch)
		}
		return nil, 0, nil
	}

	voucher, err := s.store.GetVoucherByCode(ctx, req.VoucherCode)
	if err != nil {
		return nil, 0, err
	}
	if voucher == nil {
		return nil, 0, fmt.Errorf("%w: unknown code %s", ErrVoucherInvalid, req.VoucherCode)
	}
	if voucher.ExpiresAt != nil && s.now().After(*voucher.ExpiresAt) {
		return nil, 0, fmt.Errorf("%w: expired", ErrVoucherInvalid)
	}
	if voucher.UsageLimit > 0 && voucher.UsedCount >= voucher.UsageLimit {
		return nil, 0, fmt.Errorf("%w: usage limit reached", ErrVoucherInvalid)
	}
	if subtotal < voucher.MinOrderValue {
		return nil, 0, fmt.Errorf("%w: order below minimum value", ErrVoucherInvalid)
	}

	discount := voucher.Discount(subtotal)
	if math.Abs(discount-req.Discount) > s.priceTolerance {
		return nil, 0, fmt.Errorf("%w: server computed %.2f, client sent %.2f",
			ErrDiscountMismatch, discount, req.Discount)
	}

	return voucher, discount, nil
}

// newOrderNumber generates a unique human-readable order number.
func (s *OrderService) newOrderNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:6])
	return fmt.Sprintf("ORD-%s-%s", s.now().Format("20060102"), suffix)
}

// UpdateOrderStatus applies one transition of the order state machine,
// runs its side effects, and dispatches a best-effort notification.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, newStatus models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, newStatus) {
		util.OrderTransitionsRejected.Inc()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}

	from := order.Status
	switch newStatus {
	case models.OrderStatusProcessing:
		if err := s.enterProcessing(ctx, order); err != nil {
			return nil, err
		}
	case models.OrderStatusCompleted:
		if err := s.enterCompleted(ctx, order); err != nil {
			return nil, err
		}
	case models.OrderStatusCancelled:
		if err := s.enterCancelled(ctx, order, "status update"); err != nil {
			return nil, err
		}
	}

	order.Status = newStatus
	util.OrderTransitionsTotal.WithLabelValues(string(from), string(newStatus)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(newStatus)))

	if err := s.notifier.PublishOrderStatusChanged(ctx, order, from, newStatus); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	return order, nil
}

// enterProcessing requires a settled payment (or COD) and keeps the
// shipment in the carrier-pending state.
func (s *OrderService) enterProcessing(ctx context.Context, order *models.Order) error {
	payment, err := s.payments.store.GetLatestPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentRequired
	}
	if payment.Status != models.PaymentStatusPaid && payment.Method != models.PaymentMethodCOD {
		return ErrPaymentRequired
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusProcessing); err != nil {
		return err
	}

	sh, err := s.shipping.GetByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}
	if sh != nil {
		if err := s.shipping.SetStatus(ctx, sh, models.ShippingStatusPending); err != nil {
			s.logger.Error("Failed to advance shipment", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return nil
}

// enterCompleted stamps completedAt, marks the shipment delivered and
// auto-reconciles a COD payment from UNPAID to PAID.
func (s *OrderService) enterCompleted(ctx context.Context, order *models.Order) error {
	now := s.now()
	if err := s.store.MarkOrderCompleted(ctx, order.ID, now); err != nil {
		return err
	}
	order.CompletedAt = &now

	sh, err := s.shipping.GetByOrderID(ctx, order.ID)
	if err == nil && sh != nil {
		if err := s.shipping.SetStatus(ctx, sh, models.ShippingStatusDelivered); err != nil {
			s.logger.Error("Failed to mark shipment delivered", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	payment, err := s.payments.store.GetLatestPaymentByOrderID(ctx, order.ID)
	if err == nil && payment != nil &&
		payment.Method == models.PaymentMethodCOD && payment.Status == models.PaymentStatusUnpaid {
		if err := s.payments.store.SettlePayment(ctx, payment.ID, models.PaymentStatusPaid, "", "", &now); err != nil {
			s.logger.Error("Failed to reconcile COD payment", zap.Int64("payment_id", payment.ID), zap.Error(err))
		} else if err := s.store.MarkOrderPaid(ctx, order.ID, now); err != nil {
			s.logger.Error("Failed to mark order paid", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return nil
}

// enterCancelled stamps canceledAt, cancels the shipment and any pending
// payment, and flags refund-needed when the payment was already PAID. The
// sub-cancellations are best-effort.
func (s *OrderService) enterCancelled(ctx context.Context, order *models.Order, reason string) error {
	now := s.now()
	if err := s.store.MarkOrderCancelled(ctx, order.ID, now); err != nil {
		return err
	}
	order.CanceledAt = &now
	util.OrdersCancelledTotal.Inc()

	if err := s.shipping.Cancel(ctx, order.ID); err != nil {
		s.logger.Error("Failed to cancel shipment", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	payment, err := s.payments.store.GetLatestPaymentByOrderID(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load payment during cancel", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil
	}
	if payment == nil {
		return nil
	}

	if payment.Status == models.PaymentStatusPaid {
		if err := s.payments.store.MarkPaymentRefundNeeded(ctx, payment.ID); err != nil {
			s.logger.Error("Failed to flag refund", zap.Int64("payment_id", payment.ID), zap.Error(err))
		}
		s.logger.Warn("Refund needed for cancelled order",
			zap.Int64("order_id", order.ID),
			zap.Int64("payment_id", payment.ID),
			zap.Float64("amount", payment.Amount))
		if err := s.notifier.PublishRefundNeeded(ctx, payment, reason); err != nil {
			s.logger.Error("Failed to publish RefundNeeded event", zap.Error(err))
		}
	} else if payment.IsActive() {
		if _, err := s.payments.store.CancelActivePayments(ctx, order.ID); err != nil {
			s.logger.Error("Failed to cancel pending payment", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	// Return reserved stock, best-effort.
	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load items for stock restore", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil
	}
	for _, it := range items {
		if err := s.store.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			s.logger.Error("Failed to restore stock",
				zap.Int64("product_id", it.ProductID),
				zap.Error(err))
		}
	}
	return nil
}

// PaymentStatusResult is the outcome of CheckPaymentStatus.
type PaymentStatusResult struct {
	Payment       *models.Payment `json:"payment"`
	RetryEligible bool            `json:"retry_eligible"`
}

// CheckPaymentStatus returns the latest payment for an order and whether it
// may be retried.
func (s *OrderService) CheckPaymentStatus(ctx context.Context, orderID int64) (*PaymentStatusResult, error) {
	payment, err := s.payments.store.GetLatestPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("no payment for order %d", orderID)
	}
	return &PaymentStatusResult{
		Payment:       payment,
		RetryEligible: s.payments.RetryEligible(payment),
	}, nil
}

// RetryPayment cancels the latest (retry-eligible) payment and creates a new
// one, re-entering the gateway flow when the new method requires it.
func (s *OrderService) RetryPayment(ctx context.Context, orderID int64, method models.PaymentMethod, clientIP string) (*models.Payment, string, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RetryPayment")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if models.IsTerminal(order.Status) {
		return nil, "", fmt.Errorf("%w: order is %s", ErrPaymentNotRetryable, order.Status)
	}

	latest, err := s.payments.store.GetLatestPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if latest != nil && !s.payments.RetryEligible(latest) {
		return nil, "", ErrPaymentNotRetryable
	}

	util.PaymentsRetriedTotal.Inc()
	return s.payments.CreateForOrder(ctx, order, method, clientIP)
}

// CancelOrder cancels an order on the customer's behalf. COMPLETED orders
// and paid orders already in fulfillment are rejected; everything else is
// cancelled best-effort.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if models.IsTerminal(order.Status) {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, order.Status)
	}
	// Paid orders already being fulfilled go through support, not self-serve
	// cancellation.
	if order.IsPaid && order.Status == models.OrderStatusProcessing {
		return nil, fmt.Errorf("%w: paid order already in fulfillment", ErrOrderNotCancellable)
	}

	from := order.Status
	if err := s.enterCancelled(ctx, order, "customer cancel"); err != nil {
		return nil, err
	}
	order.Status = models.OrderStatusCancelled

	if err := s.notifier.PublishOrderStatusChanged(ctx, order, from, models.OrderStatusCancelled); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
	return order, nil
}

// GetOrder retrieves an order with its items, payment and shipment.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*CreateOrderResult, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	payment, err := s.payments.store.GetLatestPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sh, err := s.shipping.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &CreateOrderResult{Order: order, Items: items, Payment: payment, Shipping: sh}, nil
}

// ListByUser returns a user's orders.
func (s *OrderService) ListByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// maxShipmentAttempts caps outbox retries per order before the intent is
// marked failed for operator attention.
const maxShipmentAttempts = 5

// RetryPendingShipments is the outbox sweep: it re-attempts carrier
// registration for orders whose shipment creation failed after commit.
func (s *OrderService) RetryPendingShipments(ctx context.Context, limit int) (int, error) {
	intents, err := s.store.GetPendingShipmentIntents(ctx, maxShipmentAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list shipment intents: %w", err)
	}

	done := 0
	for _, intent := range intents {
		order, err := s.store.GetOrderByID(ctx, intent.OrderID)
		if err != nil {
			s.logger.Error("Outbox sweep: order load failed", zap.Int64("order_id", intent.OrderID), zap.Error(err))
			continue
		}
		if models.IsTerminal(order.Status) {
			// Order was cancelled or completed in the meantime; nothing to ship.
			_ = s.store.MarkShipmentIntentDone(ctx, intent.OrderID, s.now())
			continue
		}

		sh, err := s.shipping.GetByOrderID(ctx, intent.OrderID)
		if err != nil || sh == nil {
			s.logger.Error("Outbox sweep: shipping load failed", zap.Int64("order_id", intent.OrderID), zap.Error(err))
			continue
		}
		if sh.CarrierOrderCode != "" {
			_ = s.store.MarkShipmentIntentDone(ctx, intent.OrderID, s.now())
			continue
		}

		items, err := s.store.GetOrderItems(ctx, intent.OrderID)
		if err != nil {
			continue
		}

		if err := s.shipping.RegisterWithCarrier(ctx, order, items, sh); err != nil {
			s.logger.Warn("Outbox sweep: carrier retry failed",
				zap.Int64("order_id", intent.OrderID),
				zap.Int("attempts", intent.Attempts+1),
				zap.Error(err))
			if rerr := s.store.RecordShipmentIntentFailure(ctx, intent.OrderID, err.Error()); rerr != nil {
				s.logger.Error("Failed to record intent failure", zap.Error(rerr))
			}
			if intent.Attempts+1 >= maxShipmentAttempts {
				_ = s.store.MarkShipmentIntentFailed(ctx, intent.OrderID)
			}
			continue
		}

		if err := s.store.MarkShipmentIntentDone(ctx, intent.OrderID, s.now()); err != nil {
			s.logger.Error("Failed to close shipment intent", zap.Error(err))
		}
		done++
	}
	return done, nil
}
