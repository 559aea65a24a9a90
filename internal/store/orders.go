package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderAtomic runs the order-creation transaction boundary: order
// insert, line-item inserts, initial payment insert, stock decrement,
// voucher usage increment, the shipping address snapshot and the shipment
// outbox intent. The carrier is never called inside this transaction.
func (s *Store) CreateOrderAtomic(ctx context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, shipping *models.Shipping) error {
	return s.Tx(ctx, func(tx *sqlx.Tx) error {
		if err := s.CreateOrderTx(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
			if err := s.CreateOrderItemTx(ctx, tx, &items[i]); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			if err := s.DecrementStockTx(ctx, tx, items[i].ProductID, items[i].Quantity); err != nil {
				return err
			}
		}

		payment.OrderID = order.ID
		if err := s.CreatePaymentTx(ctx, tx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		if order.VoucherID != nil {
			if err := s.IncrementVoucherUsageTx(ctx, tx, *order.VoucherID); err != nil {
				return fmt.Errorf("failed to increment voucher usage: %w", err)
			}
		}

		shipping.OrderID = order.ID
		if err := s.CreateShippingTx(ctx, tx, shipping); err != nil {
			return fmt.Errorf("failed to create shipping: %w", err)
		}

		if err := s.CreateShipmentIntentTx(ctx, tx, order.ID); err != nil {
			return fmt.Errorf("failed to create shipment intent: %w", err)
		}

		return nil
	})
}

// CreateOrderTx inserts an order inside the order-creation transaction.
func (s *Store) CreateOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, status, subtotal, shipping_fee, discount, total, voucher_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, order, query,
		order.OrderNumber, order.UserID, order.Status,
		order.Subtotal, order.ShippingFee, order.Discount, order.Total, order.VoucherID)
}

// CreateOrderItemTx inserts a line-item snapshot inside the order transaction.
func (s *Store) CreateOrderItemTx(ctx context.Context, tx *sqlx.Tx, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, sku, unit_price, quantity, weight_grams)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.SKU,
		item.UnitPrice, item.Quantity, item.WeightGrams)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByNumber retrieves an order by its human-readable order number.
// Returns nil without error when no such order exists.
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItems retrieves all line items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// MarkOrderPaid sets is_paid/paid_at on an order. paidAt carries the
// gateway's reported pay date, not the local clock.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, paidAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET is_paid = TRUE, paid_at = $1, updated_at = NOW() WHERE id = $2",
		paidAt, orderID)
	return err
}

// MarkOrderCompleted stamps completed_at alongside the status change.
func (s *Store) MarkOrderCompleted(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, completed_at = $2, updated_at = NOW() WHERE id = $3",
		models.OrderStatusCompleted, at, orderID)
	return err
}

// MarkOrderCancelled stamps canceled_at alongside the status change.
func (s *Store) MarkOrderCancelled(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, canceled_at = $2, updated_at = NOW() WHERE id = $3",
		models.OrderStatusCancelled, at, orderID)
	return err
}
