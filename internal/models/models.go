package models

import (
	"time"
)

type OrderStatus string
type PaymentStatus string
type PaymentMethod string
type ShippingStatus string

// Order statuses
const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusUnpaid    PaymentStatus = "UNPAID"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment methods
const (
	PaymentMethodCOD     PaymentMethod = "COD"
	PaymentMethodGateway PaymentMethod = "GATEWAY"
	PaymentMethodCard    PaymentMethod = "CARD"
)

// Shipping statuses. ShippingStatusUnknown is the sentinel for carrier
// vocabulary we do not recognize; tracking sync never writes it.
const (
	ShippingStatusPending        ShippingStatus = "PENDING"
	ShippingStatusShipped        ShippingStatus = "SHIPPED"
	ShippingStatusOutForDelivery ShippingStatus = "OUT_FOR_DELIVERY"
	ShippingStatusDelivered      ShippingStatus = "DELIVERED"
	ShippingStatusReturned       ShippingStatus = "RETURNED"
	ShippingStatusLost           ShippingStatus = "LOST"
	ShippingStatusCancelled      ShippingStatus = "CANCELLED"
	ShippingStatusUnknown        ShippingStatus = "UNKNOWN"
)

// orderTransitions is the allowed-transition table. COMPLETED and
// CANCELLED are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether an order status admits no further transitions.
func IsTerminal(s OrderStatus) bool {
	return len(orderTransitions[s]) == 0
}

// Order represents a customer order
type Order struct {
	ID          int64       `db:"id" json:"id"`
	OrderNumber string      `db:"order_number" json:"order_number"`
	UserID      int64       `db:"user_id" json:"user_id"`
	Status      OrderStatus `db:"status" json:"status"`
	Subtotal    float64     `db:"subtotal" json:"subtotal"`
	ShippingFee float64     `db:"shipping_fee" json:"shipping_fee"`
	Discount    float64     `db:"discount" json:"discount"`
	Total       float64     `db:"total" json:"total"`
	VoucherID   *int64      `db:"voucher_id" json:"voucher_id,omitempty"`
	IsPaid      bool        `db:"is_paid" json:"is_paid"`
	PaidAt      *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	CanceledAt  *time.Time  `db:"canceled_at" json:"canceled_at,omitempty"`
	CompletedAt *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem is an immutable snapshot of a product at order time
type OrderItem struct {
	ID          int64   `db:"id" json:"id"`
	OrderID     int64   `db:"order_id" json:"order_id"`
	ProductID   int64   `db:"product_id" json:"product_id"`
	ProductName string  `db:"product_name" json:"product_name"`
	SKU         string  `db:"sku" json:"sku"`
	UnitPrice   float64 `db:"unit_price" json:"unit_price"`
	Quantity    int     `db:"quantity" json:"quantity"`
	// WeightGrams is used for carrier fee calculation; defaulted when the
	// product does not declare one.
	WeightGrams int `db:"weight_grams" json:"weight_grams"`
}

// Payment represents a payment attempt for an order. At most one payment per
// order may be active (PENDING or UNPAID) at a time.
type Payment struct {
	ID          int64         `db:"id" json:"id"`
	OrderID     int64         `db:"order_id" json:"order_id"`
	Method      PaymentMethod `db:"method" json:"method"`
	Status      PaymentStatus `db:"status" json:"status"`
	Amount      float64       `db:"amount" json:"amount"`
	GatewayTxID string        `db:"gateway_tx_id" json:"gateway_tx_id,omitempty"`
	BankCode    string        `db:"bank_code" json:"bank_code,omitempty"`
	PaidAt      *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	// RefundNeeded flags a PAID payment on a cancelled order for the manual
	// refund queue. Refund execution happens outside this service.
	RefundNeeded bool      `db:"refund_needed" json:"refund_needed"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether this payment blocks creation of a new one.
func (p *Payment) IsActive() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusUnpaid
}

// RefundWindow is how long after paidAt a PAID payment stays refund-eligible.
const RefundWindow = 30 * 24 * time.Hour

// RefundEligible reports whether the payment can move to REFUNDED at t.
func (p *Payment) RefundEligible(t time.Time) bool {
	if p.Status != PaymentStatusPaid || p.PaidAt == nil {
		return false
	}
	return t.Sub(*p.PaidAt) <= RefundWindow
}

// Shipping represents the single shipment of an order
type Shipping struct {
	ID               int64          `db:"id" json:"id"`
	OrderID          int64          `db:"order_id" json:"order_id"`
	Status           ShippingStatus `db:"status" json:"status"`
	CarrierOrderCode string         `db:"carrier_order_code" json:"carrier_order_code,omitempty"`
	SortCode         string         `db:"sort_code" json:"sort_code,omitempty"`
	TrackingNumber   string         `db:"tracking_number" json:"tracking_number,omitempty"`
	Fee              float64        `db:"fee" json:"fee"`
	WeightGrams      int            `db:"weight_grams" json:"weight_grams"`
	ExpectedDelivery *time.Time     `db:"expected_delivery" json:"expected_delivery,omitempty"`
	RecipientName    string         `db:"recipient_name" json:"recipient_name"`
	RecipientPhone   string         `db:"recipient_phone" json:"recipient_phone"`
	AddressLine      string         `db:"address_line" json:"address_line"`
	WardCode         string         `db:"ward_code" json:"ward_code"`
	DistrictID       int            `db:"district_id" json:"district_id"`
	ProvinceID       int            `db:"province_id" json:"province_id"`
	ShippedAt        *time.Time     `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// Product is the catalog view the saga validates against. Catalog CRUD is
// owned by another service; we only read price/stock and decrement stock.
type Product struct {
	ID          int64   `db:"id" json:"id"`
	SKU         string  `db:"sku" json:"sku"`
	Name        string  `db:"name" json:"name"`
	Price       float64 `db:"price" json:"price"`
	Stock       int     `db:"stock" json:"stock"`
	WeightGrams int     `db:"weight_grams" json:"weight_grams"`
}

// Voucher represents a discount voucher applied to an order
type Voucher struct {
	ID            int64      `db:"id" json:"id"`
	Code          string     `db:"code" json:"code"`
	DiscountType  string     `db:"discount_type" json:"discount_type"` // "percent" or "fixed"
	DiscountValue float64    `db:"discount_value" json:"discount_value"`
	MaxDiscount   float64    `db:"max_discount" json:"max_discount"`
	MinOrderValue float64    `db:"min_order_value" json:"min_order_value"`
	UsageLimit    int        `db:"usage_limit" json:"usage_limit"`
	UsedCount     int        `db:"used_count" json:"used_count"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

// Discount computes the server-side discount for a given subtotal.
func (v *Voucher) Discount(subtotal float64) float64 {
	var d float64
	switch v.DiscountType {
	case "percent":
		d = subtotal * v.DiscountValue / 100
		if v.MaxDiscount > 0 && d > v.MaxDiscount {
			d = v.MaxDiscount
		}
	default:
		d = v.DiscountValue
	}
	if d > subtotal {
		d = subtotal
	}
	return d
}

// WebhookEvent is an append-only audit record of one inbound webhook attempt.
// OrderRef is a soft reference; the order may not exist.
type WebhookEvent struct {
	ID           int64     `db:"id" json:"id"`
	Source       string    `db:"source" json:"source"` // "gateway" or "carrier"
	OrderRef     string    `db:"order_ref" json:"order_ref"`
	ResponseCode string    `db:"response_code" json:"response_code"`
	DurationMs   int64     `db:"duration_ms" json:"duration_ms"`
	Success      bool      `db:"success" json:"success"`
	ErrorText    string    `db:"error_text" json:"error_text,omitempty"`
	Metadata     string    `db:"metadata" json:"metadata,omitempty"`
	SourceIP     string    `db:"source_ip" json:"source_ip,omitempty"`
	UserAgent    string    `db:"user_agent" json:"user_agent,omitempty"`
	WebhookID    string    `db:"webhook_id" json:"webhook_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ShipmentIntent is an outbox row written in the order-creation transaction.
// The background sweep retries intents whose carrier call failed.
type ShipmentIntent struct {
	ID          int64      `db:"id" json:"id"`
	OrderID     int64      `db:"order_id" json:"order_id"`
	Status      string     `db:"status" json:"status"` // PENDING, DONE, FAILED
	Attempts    int        `db:"attempts" json:"attempts"`
	LastError   string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Shipment intent statuses
const (
	IntentStatusPending = "PENDING"
	IntentStatusDone    = "DONE"
	IntentStatusFailed  = "FAILED"
)
