package service

import (
	"context"
	"time"

	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
)

// The services depend on these narrow ports rather than the concrete store,
// so the saga logic is testable against in-memory fakes. *store.Store
// implements all of them.

// OrderRepository is the order side of the store.
type OrderRepository interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	RestoreStock(ctx context.Context, productID int64, quantity int) error

	// CreateOrderAtomic runs the order-creation transaction: order insert,
	// line-item inserts, payment insert, stock decrement, voucher usage
	// increment, shipping snapshot insert and shipment-outbox intent.
	CreateOrderAtomic(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, shipping *models.Shipping) error

	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	MarkOrderPaid(ctx context.Context, orderID int64, paidAt time.Time) error
	MarkOrderCompleted(ctx context.Context, orderID int64, at time.Time) error
	MarkOrderCancelled(ctx context.Context, orderID int64, at time.Time) error

	GetPendingShipmentIntents(ctx context.Context, maxAttempts, limit int) ([]models.ShipmentIntent, error)
	MarkShipmentIntentDone(ctx context.Context, orderID int64, at time.Time) error
	RecordShipmentIntentFailure(ctx context.Context, orderID int64, lastError string) error
	MarkShipmentIntentFailed(ctx context.Context, orderID int64) error
}

// PaymentRepository is the payment side of the store.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error)
	GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error
	SettlePayment(ctx context.Context, paymentID int64, status models.PaymentStatus, gatewayTxID, bankCode string, paidAt *time.Time) error
	CancelActivePayments(ctx context.Context, orderID int64) (int64, error)
	MarkPaymentRefundNeeded(ctx context.Context, paymentID int64) error
	GetStalePendingPayments(ctx context.Context, cutoff time.Time) ([]models.Payment, error)

	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID int64, paidAt time.Time) error
}

// ShippingRepository is the shipping side of the store.
type ShippingRepository interface {
	GetShippingByOrderID(ctx context.Context, orderID int64) (*models.Shipping, error)
	GetShippingByCarrierCode(ctx context.Context, carrierOrderCode string) (*models.Shipping, error)
	UpdateShippingStatus(ctx context.Context, sh *models.Shipping) error
	UpdateShippingCarrierInfo(ctx context.Context, sh *models.Shipping) error
}

// CarrierAPI is the shipping carrier boundary.
type CarrierAPI interface {
	ValidateAddress(ctx context.Context, provinceID, districtID int, wardCode string) error
	CalculateFee(ctx context.Context, req carrier.FeeRequest) (float64, error)
	CreateOrder(ctx context.Context, req carrier.CreateOrderRequest) (*carrier.CreateOrderResult, error)
	GetTrackingStatus(ctx context.Context, orderCode string) (string, error)
	CancelOrder(ctx context.Context, orderCode string) error
}

// PaymentGateway is the payment gateway boundary used by the payment ledger.
type PaymentGateway interface {
	BuildPaymentURL(req gateway.PaymentRequest) (string, error)
	ParseCallback(params map[string]string) (*gateway.CallbackResult, error)
}

// Notifier publishes best-effort notification events.
type Notifier interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, from, to models.OrderStatus) error
	PublishPaymentReceived(ctx context.Context, payment *models.Payment) error
	PublishRefundNeeded(ctx context.Context, payment *models.Payment, reason string) error
	PublishShipmentCreated(ctx context.Context, orderID int64, carrierOrderCode string) error
}
