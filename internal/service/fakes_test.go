package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/models"
)

// fakeStore is an in-memory implementation of the repository ports.
type fakeStore struct {
	products  map[int64]models.Product
	vouchers  map[string]models.Voucher
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	payments  map[int64]*models.Payment // keyed by payment ID
	shippings map[int64]*models.Shipping
	intents   map[int64]*models.ShipmentIntent

	nextID int64

	atomicErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:  make(map[int64]models.Product),
		vouchers:  make(map[string]models.Voucher),
		orders:    make(map[int64]*models.Order),
		items:     make(map[int64][]models.OrderItem),
		payments:  make(map[int64]*models.Payment),
		shippings: make(map[int64]*models.Shipping),
		intents:   make(map[int64]*models.ShipmentIntent),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	if v, ok := f.vouchers[code]; ok {
		cp := v
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) RestoreStock(_ context.Context, productID int64, quantity int) error {
	p, ok := f.products[productID]
	if !ok {
		return fmt.Errorf("product not found: %d", productID)
	}
	p.Stock += quantity
	f.products[productID] = p
	return nil
}

func (f *fakeStore) CreateOrderAtomic(_ context.Context, order *models.Order, items []models.OrderItem, payment *models.Payment, sh *models.Shipping) error {
	if f.atomicErr != nil {
		return f.atomicErr
	}
	order.ID = f.id()
	order.CreatedAt = time.Now()
	f.orders[order.ID] = order

	for i := range items {
		items[i].ID = f.id()
		items[i].OrderID = order.ID
		p := f.products[items[i].ProductID]
		if p.Stock < items[i].Quantity {
			return ErrInsufficientStock
		}
		p.Stock -= items[i].Quantity
		f.products[items[i].ProductID] = p
	}
	f.items[order.ID] = items

	payment.ID = f.id()
	payment.OrderID = order.ID
	payment.CreatedAt = time.Now()
	f.payments[payment.ID] = payment

	sh.ID = f.id()
	sh.OrderID = order.ID
	f.shippings[order.ID] = sh

	f.intents[order.ID] = &models.ShipmentIntent{
		OrderID: order.ID,
		Status:  models.IntentStatusPending,
	}
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	return o, nil
}

func (f *fakeStore) GetOrderByNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.OrderNumber == orderNumber {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	return f.items[orderID], nil
}

func (f *fakeStore) GetOrdersByUserID(_ context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, orderID int64, status models.OrderStatus) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.Status = status
	return nil
}

func (f *fakeStore) MarkOrderPaid(_ context.Context, orderID int64, paidAt time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.IsPaid = true
	o.PaidAt = &paidAt
	return nil
}

func (f *fakeStore) MarkOrderCompleted(_ context.Context, orderID int64, at time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.Status = models.OrderStatusCompleted
	o.CompletedAt = &at
	return nil
}

func (f *fakeStore) MarkOrderCancelled(_ context.Context, orderID int64, at time.Time) error {
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %d", orderID)
	}
	o.Status = models.OrderStatusCancelled
	o.CanceledAt = &at
	return nil
}

func (f *fakeStore) GetPendingShipmentIntents(_ context.Context, maxAttempts, limit int) ([]models.ShipmentIntent, error) {
	var out []models.ShipmentIntent
	for _, in := range f.intents {
		if in.Status == models.IntentStatusPending && in.Attempts < maxAttempts {
			out = append(out, *in)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkShipmentIntentDone(_ context.Context, orderID int64, at time.Time) error {
	if in, ok := f.intents[orderID]; ok {
		in.Status = models.IntentStatusDone
	}
	return nil
}

func (f *fakeStore) RecordShipmentIntentFailure(_ context.Context, orderID int64, lastError string) error {
	if in, ok := f.intents[orderID]; ok {
		in.Attempts++
		in.LastError = lastError
	}
	return nil
}

func (f *fakeStore) MarkShipmentIntentFailed(_ context.Context, orderID int64) error {
	if in, ok := f.intents[orderID]; ok {
		in.Status = models.IntentStatusFailed
	}
	return nil
}

func (f *fakeStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	payment.ID = f.id()
	payment.CreatedAt = time.Now()
	f.payments[payment.ID] = payment
	return nil
}

func (f *fakeStore) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment not found: %d", id)
	}
	return p, nil
}

func (f *fakeStore) GetLatestPaymentByOrderID(_ context.Context, orderID int64) (*models.Payment, error) {
	var latest *models.Payment
	for _, p := range f.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.ID > latest.ID {
			latest = p
		}
	}
	return latest, nil
}

func (f *fakeStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status models.PaymentStatus) error {
	p, ok := f.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment not found: %d", paymentID)
	}
	p.Status = status
	return nil
}

func (f *fakeStore) SettlePayment(_ context.Context, paymentID int64, status models.PaymentStatus, gatewayTxID, bankCode string, paidAt *time.Time) error {
	p, ok := f.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment not found: %d", paymentID)
	}
	p.Status = status
	p.GatewayTxID = gatewayTxID
	p.BankCode = bankCode
	p.PaidAt = paidAt
	return nil
}

func (f *fakeStore) CancelActivePayments(_ context.Context, orderID int64) (int64, error) {
	var n int64
	for _, p := range f.payments {
		if p.OrderID == orderID && p.IsActive() {
			p.Status = models.PaymentStatusCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MarkPaymentRefundNeeded(_ context.Context, paymentID int64) error {
	p, ok := f.payments[paymentID]
	if !ok {
		return fmt.Errorf("payment not found: %d", paymentID)
	}
	p.RefundNeeded = true
	return nil
}

func (f *fakeStore) GetStalePendingPayments(_ context.Context, cutoff time.Time) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetShippingByOrderID(_ context.Context, orderID int64) (*models.Shipping, error) {
	return f.shippings[orderID], nil
}

func (f *fakeStore) GetShippingByCarrierCode(_ context.Context, code string) (*models.Shipping, error) {
	for _, sh := range f.shippings {
		if sh.CarrierOrderCode == code {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("shipping not found: %s", code)
}

func (f *fakeStore) UpdateShippingStatus(_ context.Context, sh *models.Shipping) error {
	f.shippings[sh.OrderID] = sh
	return nil
}

func (f *fakeStore) UpdateShippingCarrierInfo(_ context.Context, sh *models.Shipping) error {
	f.shippings[sh.OrderID] = sh
	return nil
}

// fakeCarrier is a scriptable carrier boundary.
type fakeCarrier struct {
	fee            float64
	createErr      error
	createCalls    int
	lastCreate     carrier.CreateOrderRequest
	trackingStatus string
	cancelled      []string
	addressErr     error
}

func (f *fakeCarrier) ValidateAddress(_ context.Context, provinceID, districtID int, wardCode string) error {
	return f.addressErr
}

func (f *fakeCarrier) CalculateFee(_ context.Context, req carrier.FeeRequest) (float64, error) {
	return f.fee, nil
}

func (f *fakeCarrier) CreateOrder(_ context.Context, req carrier.CreateOrderRequest) (*carrier.CreateOrderResult, error) {
	f.createCalls++
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &carrier.CreateOrderResult{
		OrderCode: fmt.Sprintf("GHN%04d", f.createCalls),
		SortCode:  "19-07-03",
		TotalFee:  f.fee,
	}, nil
}

func (f *fakeCarrier) GetTrackingStatus(_ context.Context, orderCode string) (string, error) {
	return f.trackingStatus, nil
}

func (f *fakeCarrier) CancelOrder(_ context.Context, orderCode string) error {
	f.cancelled = append(f.cancelled, orderCode)
	return nil
}

// fakeNotifier records published events by kind.
type fakeNotifier struct {
	published []string
}

func (f *fakeNotifier) PublishOrderCreated(_ context.Context, _ *models.Order) error {
	f.published = append(f.published, "order_created")
	return nil
}

func (f *fakeNotifier) PublishOrderStatusChanged(_ context.Context, _ *models.Order, from, to models.OrderStatus) error {
	f.published = append(f.published, fmt.Sprintf("status:%s->%s", from, to))
	return nil
}

func (f *fakeNotifier) PublishPaymentReceived(_ context.Context, _ *models.Payment) error {
	f.published = append(f.published, "payment_received")
	return nil
}

func (f *fakeNotifier) PublishRefundNeeded(_ context.Context, _ *models.Payment, _ string) error {
	f.published = append(f.published, "refund_needed")
	return nil
}

func (f *fakeNotifier) PublishShipmentCreated(_ context.Context, _ int64, _ string) error {
	f.published = append(f.published, "shipment_created")
	return nil
}

func (f *fakeNotifier) has(kind string) bool {
	for _, p := range f.published {
		if p == kind {
			return true
		}
	}
	return false
}
