package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// PaymentStaleWindow is how long a gateway payment may sit in PENDING before
// it counts as abandoned and becomes retry-eligible.
const PaymentStaleWindow = 30 * time.Minute

// amountTolerance absorbs rounding between the caller's amount and the
// gateway-reported one.
const amountTolerance = 0.01

// PaymentService is the payment ledger: it owns payment state transitions
// and the single-active-payment invariant, and drives the gateway adapter.
type PaymentService struct {
	store    PaymentRepository
	gateway  PaymentGateway
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(store PaymentRepository, gw PaymentGateway, notifier Notifier) *PaymentService {
	return &PaymentService{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// InitialStatus returns the status a freshly created payment starts in.
// GATEWAY payments await the redirect flow; COD and CARD are simply unpaid.
func InitialStatus(method models.PaymentMethod) models.PaymentStatus {
	if method == models.PaymentMethodGateway {
		return models.PaymentStatusPending
	}
	return models.PaymentStatusUnpaid
}

// BuildRedirectURL builds the signed gateway URL for a GATEWAY payment.
func (ps *PaymentService) BuildRedirectURL(order *models.Order, clientIP string) (string, error) {
	return ps.gateway.BuildPaymentURL(gateway.PaymentRequest{
		TxnRef:    order.OrderNumber,
		Amount:    order.Total,
		OrderInfo: fmt.Sprintf("Payment for order %s", order.OrderNumber),
		ClientIP:  clientIP,
		CreatedAt: ps.now(),
	})
}

// CreateForOrder creates a payment for an existing order, cancelling any
// still-active payment first so exactly one active payment exists per order.
// For GATEWAY payments the returned string is the redirect URL.
func (ps *PaymentService) CreateForOrder(ctx context.Context, order *models.Order, method models.PaymentMethod, clientIP string) (*models.Payment, string, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateForOrder")
	defer span.End()

	cancelled, err := ps.store.CancelActivePayments(ctx, order.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to cancel active payments: %w", err)
	}
	if cancelled > 0 {
		ps.logger.Info("Cancelled active payments before creating a new one",
			zap.Int64("order_id", order.ID),
			zap.Int64("cancelled", cancelled))
	}

	payment := &models.Payment{
		OrderID: order.ID,
		Method:  method,
		Status:  InitialStatus(method),
		Amount:  order.Total,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		return nil, "", fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentsCreatedTotal.WithLabelValues(string(method)).Inc()

	var redirectURL string
	if method == models.PaymentMethodGateway {
		redirectURL, err = ps.BuildRedirectURL(order, clientIP)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build payment URL: %w", err)
		}
	}

	ps.logger.Info("Payment created",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("method", string(method)))

	return payment, redirectURL, nil
}

// RetryEligible reports whether the latest payment of an order may be
// replaced: FAILED and CANCELLED always, PENDING only once stale.
func (ps *PaymentService) RetryEligible(p *models.Payment) bool {
	switch p.Status {
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		return true
	case models.PaymentStatusPending:
		return ps.now().Sub(p.CreatedAt) > PaymentStaleWindow
	default:
		return false
	}
}

// HandleGatewayCallback applies one gateway IPN callback. It verifies the
// signature, parses the payload, locates the payment by the order reference,
// recomputes the target status from the parsed result and persists it. On
// success the parent order is marked paid with the gateway's reported pay
// date rather than the local clock.
//
// The operation is idempotent: a callback for an already-settled payment
// returns ErrCallbackAlreadyFinal and changes nothing.
func (ps *PaymentService) HandleGatewayCallback(ctx context.Context, params map[string]string) (*gateway.CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleGatewayCallback")
	defer span.End()

	result, err := ps.gateway.ParseCallback(params)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			ps.logger.Warn("Gateway callback rejected: invalid signature",
				zap.String("txn_ref", result.TxnRef))
		}
		return result, err
	}
	if result.SignatureSkip {
		ps.logger.Warn("Gateway signature verification bypassed: secret unconfigured")
	}

	order, err := ps.store.GetOrderByNumber(ctx, result.TxnRef)
	if err != nil {
		return result, fmt.Errorf("failed to load order %s: %w", result.TxnRef, err)
	}
	if order == nil {
		return result, ErrCallbackOrderNotFound
	}

	payment, err := ps.store.GetLatestPaymentByOrderID(ctx, order.ID)
	if err != nil {
		return result, fmt.Errorf("failed to load payment for order %d: %w", order.ID, err)
	}
	if payment == nil {
		return result, ErrCallbackOrderNotFound
	}

	if payment.Status == models.PaymentStatusPaid || payment.Status == models.PaymentStatusFailed {
		return result, ErrCallbackAlreadyFinal
	}

	if result.Amount > 0 && math.Abs(result.Amount-payment.Amount) > amountTolerance {
		ps.logger.Warn("Gateway callback amount mismatch",
			zap.Int64("payment_id", payment.ID),
			zap.Float64("expected", payment.Amount),
			zap.Float64("got", result.Amount))
		return result, ErrCallbackAmountInvalid
	}

	newStatus := models.PaymentStatusFailed
	var paidAt *time.Time
	if result.Success() {
		newStatus = models.PaymentStatusPaid
		payDate := result.PayDate
		if payDate.IsZero() {
			payDate = ps.now()
		}
		paidAt = &payDate
	}

	if err := ps.store.SettlePayment(ctx, payment.ID, newStatus, result.GatewayTxID, result.BankCode, paidAt); err != nil {
		return result, fmt.Errorf("failed to settle payment %d: %w", payment.ID, err)
	}

	if newStatus == models.PaymentStatusPaid {
		if err := ps.store.MarkOrderPaid(ctx, order.ID, *paidAt); err != nil {
			return result, fmt.Errorf("failed to mark order %d paid: %w", order.ID, err)
		}

		payment.Status = newStatus
		payment.GatewayTxID = result.GatewayTxID
		payment.PaidAt = paidAt
		if err := ps.notifier.PublishPaymentReceived(ctx, payment); err != nil {
			ps.logger.Error("Failed to publish PaymentReceived event", zap.Error(err))
		}
	}

	util.PaymentsSettledTotal.WithLabelValues(string(newStatus)).Inc()
	ps.logger.Info("Gateway callback applied",
		zap.Int64("order_id", order.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("status", string(newStatus)),
		zap.String("gateway_tx_id", result.GatewayTxID))

	return result, nil
}

// MarkRefunded moves a PAID payment to REFUNDED. Only PAID payments within
// the refund window are eligible.
func (ps *PaymentService) MarkRefunded(ctx context.Context, paymentID int64) error {
	payment, err := ps.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if !payment.RefundEligible(ps.now()) {
		return ErrRefundIneligible
	}
	return ps.store.UpdatePaymentStatus(ctx, paymentID, models.PaymentStatusRefunded)
}

// SweepAbandoned cancels gateway payments stuck in PENDING past the
// staleness window. Run on a schedule.
func (ps *PaymentService) SweepAbandoned(ctx context.Context) (int, error) {
	cutoff := ps.now().Add(-PaymentStaleWindow)
	stale, err := ps.store.GetStalePendingPayments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	cancelled := 0
	for i := range stale {
		if err := ps.store.UpdatePaymentStatus(ctx, stale[i].ID, models.PaymentStatusCancelled); err != nil {
			ps.logger.Error("Failed to cancel abandoned payment",
				zap.Int64("payment_id", stale[i].ID),
				zap.Error(err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		ps.logger.Info("Abandoned payment sweep", zap.Int("cancelled", cancelled))
	}
	return cancelled, nil
}
