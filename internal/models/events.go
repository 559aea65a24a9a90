package models

import "time"

// Notification event types, published best-effort to the notification topic.
// The notification service renders and delivers email/push; publish failures
// here never roll back a state change.
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentReceived    = "PAYMENT_RECEIVED"
	EventTypeRefundNeeded       = "REFUND_NEEDED"
	EventTypeShipmentCreated    = "SHIPMENT_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published after an order commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64   `json:"order_id"`
	OrderNumber string  `json:"order_number"`
	UserID      int64   `json:"user_id"`
	Total       float64 `json:"total"`
}

// OrderStatusChangedEvent published on every accepted status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     int64       `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	FromStatus  OrderStatus `json:"from_status"`
	ToStatus    OrderStatus `json:"to_status"`
}

// PaymentReceivedEvent published when a payment settles
type PaymentReceivedEvent struct {
	BaseEvent
	OrderID     int64   `json:"order_id"`
	PaymentID   int64   `json:"payment_id"`
	Amount      float64 `json:"amount"`
	GatewayTxID string  `json:"gateway_tx_id"`
}

// RefundNeededEvent flags a paid payment on a cancelled order for the
// operator refund queue
type RefundNeededEvent struct {
	BaseEvent
	OrderID   int64   `json:"order_id"`
	PaymentID int64   `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

// ShipmentCreatedEvent published once the carrier accepts a shipment
type ShipmentCreatedEvent struct {
	BaseEvent
	OrderID          int64  `json:"order_id"`
	CarrierOrderCode string `json:"carrier_order_code"`
}
