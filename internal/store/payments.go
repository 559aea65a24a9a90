package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment inserts a payment record.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method, status, amount, gateway_tx_id, bank_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Method, payment.Status,
		payment.Amount, payment.GatewayTxID, payment.BankCode)
}

// CreatePaymentTx inserts a payment inside the order-creation transaction.
func (s *Store) CreatePaymentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, method, status, amount, gateway_tx_id, bank_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, payment, query,
		payment.OrderID, payment.Method, payment.Status,
		payment.Amount, payment.GatewayTxID, payment.BankCode)
}

// GetLatestPaymentByOrderID retrieves the most recent payment for an order.
// Returns nil without error when the order has no payment.
func (s *Store) GetLatestPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByID retrieves a payment by ID
func (s *Store) GetPaymentByID(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2",
		status, paymentID)
	return err
}

// SettlePayment records the gateway's settlement outcome: final status,
// gateway transaction id, bank code and the gateway-reported pay date.
func (s *Store) SettlePayment(ctx context.Context, paymentID int64, status models.PaymentStatus, gatewayTxID, bankCode string, paidAt *time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, gateway_tx_id = $2, bank_code = $3, paid_at = $4, updated_at = NOW()
		 WHERE id = $5`,
		status, gatewayTxID, bankCode, paidAt, paymentID)
	return err
}

// CancelActivePayments cancels every active (PENDING or UNPAID) payment of an
// order and returns how many rows changed. Creating a new payment calls this
// first so at most one active payment exists per order.
func (s *Store) CancelActivePayments(ctx context.Context, orderID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW()
		 WHERE order_id = $2 AND status IN ($3, $4)`,
		models.PaymentStatusCancelled, orderID,
		models.PaymentStatusPending, models.PaymentStatusUnpaid)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkPaymentRefundNeeded flags a paid payment for the manual refund queue.
func (s *Store) MarkPaymentRefundNeeded(ctx context.Context, paymentID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET refund_needed = TRUE, updated_at = NOW() WHERE id = $1",
		paymentID)
	return err
}

// GetStalePendingPayments lists gateway payments that have sat in PENDING
// since before the cutoff (abandoned-payment sweep).
func (s *Store) GetStalePendingPayments(ctx context.Context, cutoff time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		`SELECT * FROM payments
		 WHERE status = $1 AND method = $2 AND created_at < $3
		 ORDER BY created_at`,
		models.PaymentStatusPending, models.PaymentMethodGateway, cutoff)
	return payments, err
}
