package broker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/google/uuid"
)

// NotificationPublisher publishes notification events for the downstream
// notification service. Every publish is best-effort: callers log failures
// and never roll back state on them.
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes an OrderCreated notification
func (np *NotificationPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Total,
	}
	return np.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderStatusChanged publishes an OrderStatusChanged notification
func (np *NotificationPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, from, to models.OrderStatus) error {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  from,
		ToStatus:    to,
	}
	return np.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishPaymentReceived publishes a PaymentReceived notification
func (np *NotificationPublisher) PublishPaymentReceived(ctx context.Context, payment *models.Payment) error {
	event := &models.PaymentReceivedEvent{
		BaseEvent:   newBaseEvent(models.EventTypePaymentReceived),
		OrderID:     payment.OrderID,
		PaymentID:   payment.ID,
		Amount:      payment.Amount,
		GatewayTxID: payment.GatewayTxID,
	}
	return np.producer.PublishEvent(ctx, orderKey(payment.OrderID), event)
}

// PublishRefundNeeded publishes a RefundNeeded notification for the operator
// refund queue
func (np *NotificationPublisher) PublishRefundNeeded(ctx context.Context, payment *models.Payment, reason string) error {
	event := &models.RefundNeededEvent{
		BaseEvent: newBaseEvent(models.EventTypeRefundNeeded),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Reason:    reason,
	}
	return np.producer.PublishEvent(ctx, orderKey(payment.OrderID), event)
}

// PublishShipmentCreated publishes a ShipmentCreated notification
func (np *NotificationPublisher) PublishShipmentCreated(ctx context.Context, orderID int64, carrierOrderCode string) error {
	event := &models.ShipmentCreatedEvent{
		BaseEvent:        newBaseEvent(models.EventTypeShipmentCreated),
		OrderID:          orderID,
		CarrierOrderCode: carrierOrderCode,
	}
	return np.producer.PublishEvent(ctx, orderKey(orderID), event)
}
