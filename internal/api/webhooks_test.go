package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/monitor"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "testsecret"

type fakeLocker struct {
	denyLock bool
	seen     map[string]bool
}

func (f *fakeLocker) AcquireOrderLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return !f.denyLock, nil
}

func (f *fakeLocker) ReleaseOrderLock(_ context.Context, _ string) error { return nil }

func (f *fakeLocker) MarkWebhookSeen(_ context.Context, source, id string, _ time.Duration) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := source + ":" + id
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

// fakeBackend implements the repository and event-store ports behind the
// webhook endpoints.
type fakeBackend struct {
	order    *models.Order
	payment  *models.Payment
	shipping *models.Shipping
	recorded []models.WebhookEvent
}

func (f *fakeBackend) CreatePayment(_ context.Context, p *models.Payment) error { return nil }
func (f *fakeBackend) GetPaymentByID(_ context.Context, id int64) (*models.Payment, error) {
	return f.payment, nil
}
func (f *fakeBackend) GetLatestPaymentByOrderID(_ context.Context, _ int64) (*models.Payment, error) {
	return f.payment, nil
}
func (f *fakeBackend) UpdatePaymentStatus(_ context.Context, _ int64, status models.PaymentStatus) error {
	f.payment.Status = status
	return nil
}
func (f *fakeBackend) SettlePayment(_ context.Context, _ int64, status models.PaymentStatus, txID, bank string, paidAt *time.Time) error {
	f.payment.Status = status
	f.payment.GatewayTxID = txID
	f.payment.BankCode = bank
	f.payment.PaidAt = paidAt
	return nil
}
func (f *fakeBackend) CancelActivePayments(_ context.Context, _ int64) (int64, error) { return 0, nil }
func (f *fakeBackend) MarkPaymentRefundNeeded(_ context.Context, _ int64) error       { return nil }
func (f *fakeBackend) GetStalePendingPayments(_ context.Context, _ time.Time) ([]models.Payment, error) {
	return nil, nil
}
func (f *fakeBackend) GetOrderByNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	if f.order != nil && f.order.OrderNumber == orderNumber {
		return f.order, nil
	}
	return nil, nil
}
func (f *fakeBackend) MarkOrderPaid(_ context.Context, _ int64, paidAt time.Time) error {
	f.order.IsPaid = true
	f.order.PaidAt = &paidAt
	return nil
}

func (f *fakeBackend) GetShippingByOrderID(_ context.Context, _ int64) (*models.Shipping, error) {
	return f.shipping, nil
}
func (f *fakeBackend) GetShippingByCarrierCode(_ context.Context, code string) (*models.Shipping, error) {
	if f.shipping != nil && f.shipping.CarrierOrderCode == code {
		return f.shipping, nil
	}
	return nil, fmt.Errorf("shipping not found: %s", code)
}
func (f *fakeBackend) UpdateShippingStatus(_ context.Context, _ *models.Shipping) error      { return nil }
func (f *fakeBackend) UpdateShippingCarrierInfo(_ context.Context, _ *models.Shipping) error { return nil }

func (f *fakeBackend) InsertWebhookEvent(_ context.Context, e *models.WebhookEvent) error {
	f.recorded = append(f.recorded, *e)
	return nil
}
func (f *fakeBackend) DeleteWebhookEventsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
func (f *fakeBackend) ListWebhookEvents(_ context.Context, _ store.WebhookEventFilter) ([]models.WebhookEvent, int64, error) {
	return f.recorded, int64(len(f.recorded)), nil
}

type noopCarrier struct{}

func (noopCarrier) ValidateAddress(_ context.Context, _, _ int, _ string) error { return nil }
func (noopCarrier) CalculateFee(_ context.Context, _ carrier.FeeRequest) (float64, error) {
	return 0, nil
}
func (noopCarrier) CreateOrder(_ context.Context, _ carrier.CreateOrderRequest) (*carrier.CreateOrderResult, error) {
	return &carrier.CreateOrderResult{OrderCode: "GHN0001"}, nil
}
func (noopCarrier) GetTrackingStatus(_ context.Context, _ string) (string, error) {
	return "ready_to_pick", nil
}
func (noopCarrier) CancelOrder(_ context.Context, _ string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) PublishOrderCreated(_ context.Context, _ *models.Order) error { return nil }
func (noopNotifier) PublishOrderStatusChanged(_ context.Context, _ *models.Order, _, _ models.OrderStatus) error {
	return nil
}
func (noopNotifier) PublishPaymentReceived(_ context.Context, _ *models.Payment) error { return nil }
func (noopNotifier) PublishRefundNeeded(_ context.Context, _ *models.Payment, _ string) error {
	return nil
}
func (noopNotifier) PublishShipmentCreated(_ context.Context, _ int64, _ string) error { return nil }

func newTestHandler(backend *fakeBackend, locks *fakeLocker, carrierSecret string) (*Handler, *gin.Engine) {
	gin.SetMode(gin.TestMode)

	gw := gateway.NewAdapter(config.GatewayConfig{
		TmnCode:    "TESTTMN",
		HashSecret: testSecret,
		PayURL:     "https://pay.example.com/paymentv2",
		ReturnURL:  "https://shop.example.com/return",
	})
	notifier := noopNotifier{}
	payments := service.NewPaymentService(backend, gw, notifier)
	shipping := service.NewShippingService(backend, noopCarrier{}, notifier, config.CarrierConfig{})
	mon := monitor.New(backend, 100)

	cfg := &config.Config{}
	cfg.Carrier.WebhookSecret = carrierSecret
	cfg.Monitor.RetentionDays = 30

	h := NewHandler(nil, payments, shipping, mon, backend, locks, cfg)
	router := gin.New()
	h.SetupRoutes(router)
	return h, router
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		order: &models.Order{ID: 1, OrderNumber: "ORD-20260115-ABC123", Total: 650000},
		payment: &models.Payment{
			ID: 10, OrderID: 1,
			Method: models.PaymentMethodGateway,
			Status: models.PaymentStatusPending,
			Amount: 650000,
		},
		shipping: &models.Shipping{
			ID: 20, OrderID: 1,
			Status:           models.ShippingStatusPending,
			CarrierOrderCode: "GHN0001",
		},
	}
}

func signedIPNQuery(params map[string]string) string {
	hash := gateway.Sign(params, testSecret)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("vnp_SecureHash", hash)
	return q.Encode()
}

func doIPN(router *gin.Engine, query string) (int, map[string]string) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhooks/payment/ipn?"+query, nil)
	router.ServeHTTP(w, req)

	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func TestPaymentIPNSuccess(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	code, body := doIPN(router, signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "65000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14012345",
	}))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "00", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPaid, backend.payment.Status)
	assert.True(t, backend.order.IsPaid)

	// The delivery landed in the durable audit log.
	require.Len(t, backend.recorded, 1)
	assert.Equal(t, "gateway", backend.recorded[0].Source)
	assert.True(t, backend.recorded[0].Success)
}

func TestPaymentIPNInvalidSignature(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	query := signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "65000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	})
	query += "&vnp_BankCode=TAMPERED"

	code, body := doIPN(router, query)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "97", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPending, backend.payment.Status)
}

func TestPaymentIPNUnknownOrder(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	_, body := doIPN(router, signedIPNQuery(map[string]string{
		"vnp_TxnRef":            "ORD-NOPE",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	}))
	assert.Equal(t, "01", body["RspCode"])
}

func TestPaymentIPNReplay(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	query := signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "65000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	})

	_, body := doIPN(router, query)
	assert.Equal(t, "00", body["RspCode"])

	// At-least-once delivery: the replay acknowledges without changing state.
	_, body = doIPN(router, query)
	assert.Equal(t, "02", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPaid, backend.payment.Status)
}

func TestPaymentIPNAmountMismatch(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	_, body := doIPN(router, signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "100",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	}))
	assert.Equal(t, "04", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPending, backend.payment.Status)
}

func TestPaymentIPNMissingFields(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	// Correctly signed but without the transaction reference or response
	// code. The ack must be a permanent code, not the retryable 99, or
	// the gateway redelivers the same broken payload forever.
	code, body := doIPN(router, signedIPNQuery(map[string]string{
		"vnp_Amount": "65000000",
	}))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "03", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPending, backend.payment.Status)

	require.Len(t, backend.recorded, 1)
	assert.False(t, backend.recorded[0].Success)
	assert.Equal(t, "03", backend.recorded[0].ResponseCode)
}

func TestPaymentIPNLockHeld(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{denyLock: true}, "")

	code, body := doIPN(router, signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "65000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	}))

	// Retryable: the gateway should redeliver once the lock clears.
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "99", body["RspCode"])
	assert.Equal(t, models.PaymentStatusPending, backend.payment.Status)
}

func carrierBody(t *testing.T, payload carrierStatusPayload) []byte {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return b
}

func doCarrierWebhook(router *gin.Engine, body []byte, signature string) (int, map[string]string) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shipping/status-update", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	router.ServeHTTP(w, req)

	var resp map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func signCarrierBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestCarrierWebhookAppliesStatus(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	body := carrierBody(t, carrierStatusPayload{
		OrderCode:   "GHN0001",
		Status:      "delivering",
		UpdatedDate: "2026-02-01T09:00:00Z",
	})

	code, resp := doCarrierWebhook(router, body, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["message"])
	assert.Equal(t, models.ShippingStatusOutForDelivery, backend.shipping.Status)
	require.NotNil(t, backend.shipping.ShippedAt)
	assert.Equal(t, 2026, backend.shipping.ShippedAt.Year())
}

func TestCarrierWebhookBadSignatureStill200(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "carriersecret")

	body := carrierBody(t, carrierStatusPayload{OrderCode: "GHN0001", Status: "delivered"})

	code, resp := doCarrierWebhook(router, body, "deadbeef")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "invalid signature", resp["message"])
	assert.Equal(t, models.ShippingStatusPending, backend.shipping.Status)

	// Correctly signed, the same body goes through.
	code, resp = doCarrierWebhook(router, body, signCarrierBody(body, "carriersecret"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["message"])
	assert.Equal(t, models.ShippingStatusDelivered, backend.shipping.Status)
}

func TestCarrierWebhookDuplicateDelivery(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	body := carrierBody(t, carrierStatusPayload{
		OrderCode: "GHN0001",
		Status:    "picked",
		WebhookID: "wh-123",
	})

	_, resp := doCarrierWebhook(router, body, "")
	assert.Equal(t, "ok", resp["message"])

	_, resp = doCarrierWebhook(router, body, "")
	assert.Equal(t, "duplicate", resp["message"])

	// The caller-supplied delivery id is preserved on both audit records.
	require.Len(t, backend.recorded, 2)
	assert.Equal(t, "wh-123", backend.recorded[0].WebhookID)
	assert.Equal(t, "wh-123", backend.recorded[1].WebhookID)
}

func TestCarrierWebhookGeneratesCorrelationID(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	body := carrierBody(t, carrierStatusPayload{OrderCode: "GHN0001", Status: "picked"})
	_, resp := doCarrierWebhook(router, body, "")
	assert.Equal(t, "ok", resp["message"])

	require.Len(t, backend.recorded, 1)
	assert.NotEmpty(t, backend.recorded[0].WebhookID)
}

func TestCarrierWebhookMalformedBodyStill200(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	code, resp := doCarrierWebhook(router, []byte("{not json"), "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "malformed payload", resp["message"])
}

func TestCarrierWebhookMissingFields(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	// order_code without status.
	body := carrierBody(t, carrierStatusPayload{OrderCode: "GHN0001"})
	code, resp := doCarrierWebhook(router, body, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "missing required fields", resp["message"])
	assert.Equal(t, models.ShippingStatusPending, backend.shipping.Status)

	// status without order_code.
	body = carrierBody(t, carrierStatusPayload{Status: "delivered"})
	code, resp = doCarrierWebhook(router, body, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "missing required fields", resp["message"])
	assert.Equal(t, models.ShippingStatusPending, backend.shipping.Status)

	// Both deliveries land in the audit log as failures, not successes.
	require.Len(t, backend.recorded, 2)
	for _, e := range backend.recorded {
		assert.False(t, e.Success)
		assert.Equal(t, "400", e.ResponseCode)
		assert.Equal(t, "missing order_code or status", e.ErrorText)
	}
}

func TestAdminWebhookSurfaces(t *testing.T) {
	backend := newBackend()
	_, router := newTestHandler(backend, &fakeLocker{}, "")

	// Generate one successful delivery so the metrics are non-empty.
	doIPN(router, signedIPNQuery(map[string]string{
		"vnp_TxnRef":            backend.order.OrderNumber,
		"vnp_Amount":            "65000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var metrics monitor.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, int64(1), metrics.SuccessCount)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), monitor.HealthHealthy)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"total\":1")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "order_ref")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/webhooks/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/webhooks/metrics", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, int64(0), metrics.TotalRequests)
}
