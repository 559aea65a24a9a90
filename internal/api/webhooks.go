package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Gateway IPN acknowledgment codes. The gateway redelivers until it
// receives RspCode 00.
const (
	ipnSuccess          = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidData      = "03"
	ipnAmountInvalid    = "04"
	ipnBadSignature     = "97"
	ipnProcessingError  = "99"
)

const (
	webhookLockTTL  = 30 * time.Second
	webhookDedupTTL = 24 * time.Hour
)

// paymentIPN handles the payment gateway's instant payment notification.
// Processing is serialized per order via a Redis lock; a held lock answers
// with a retryable error code so the gateway redelivers later. The outcome
// of every delivery is recorded in the webhook monitor.
func (h *Handler) paymentIPN(c *gin.Context) {
	start := time.Now()

	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for k, v := range c.Request.PostForm {
				if len(v) > 0 {
					params[k] = v[0]
				}
			}
		}
	}

	txnRef := params["vnp_TxnRef"]
	rspCode := ipnProcessingError
	errText := ""

	defer func() {
		h.recordWebhook(c, "gateway", txnRef, "", rspCode, start, rspCode == ipnSuccess, errText)
	}()

	if txnRef != "" {
		acquired, err := h.locks.AcquireOrderLock(c.Request.Context(), txnRef, webhookLockTTL)
		if err != nil || !acquired {
			// Another delivery for this order is in flight; let the gateway
			// redeliver.
			errText = "order lock held"
			c.JSON(http.StatusOK, gin.H{"RspCode": ipnProcessingError, "Message": "Processing, retry later"})
			return
		}
		defer func() {
			_ = h.locks.ReleaseOrderLock(c.Request.Context(), txnRef)
		}()
	}

	_, err := h.payments.HandleGatewayCallback(c.Request.Context(), params)
	rspCode, errText = ipnCodeFor(err)

	c.JSON(http.StatusOK, gin.H{"RspCode": rspCode, "Message": ipnMessageFor(rspCode)})
}

// ipnCodeFor maps callback-processing errors onto the gateway's response
// vocabulary.
func ipnCodeFor(err error) (code, errText string) {
	switch {
	case err == nil:
		return ipnSuccess, ""
	case errors.Is(err, gateway.ErrInvalidSignature):
		return ipnBadSignature, err.Error()
	case errors.Is(err, gateway.ErrMissingFields):
		// Permanent: a payload without its correlating fields can never
		// succeed, so the ack must not be the retryable 99.
		return ipnInvalidData, err.Error()
	case errors.Is(err, service.ErrCallbackOrderNotFound):
		return ipnOrderNotFound, err.Error()
	case errors.Is(err, service.ErrCallbackAlreadyFinal):
		return ipnAlreadyConfirmed, err.Error()
	case errors.Is(err, service.ErrCallbackAmountInvalid):
		return ipnAmountInvalid, err.Error()
	default:
		return ipnProcessingError, err.Error()
	}
}

func ipnMessageFor(code string) string {
	switch code {
	case ipnSuccess:
		return "Confirm Success"
	case ipnOrderNotFound:
		return "Order not found"
	case ipnAlreadyConfirmed:
		return "Order already confirmed"
	case ipnInvalidData:
		return "Invalid data"
	case ipnAmountInvalid:
		return "Invalid amount"
	case ipnBadSignature:
		return "Invalid signature"
	default:
		return "Unknown error"
	}
}

// carrierStatusPayload is the carrier's status-update webhook body.
type carrierStatusPayload struct {
	OrderCode   string `json:"order_code"`
	Status      string `json:"status"`
	UpdatedDate string `json:"updated_date"`
	Description string `json:"description"`
	WebhookID   string `json:"webhook_id"`
}

// carrierStatusUpdate handles the carrier's shipment status webhook. The
// carrier treats any non-2xx as undeliverable and gives up, so this endpoint
// always answers 200 and records failures in the monitor instead.
func (h *Handler) carrierStatusUpdate(c *gin.Context) {
	start := time.Now()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.recordWebhook(c, "carrier", "", "", "400", start, false, "unreadable body")
		c.JSON(http.StatusOK, gin.H{"message": "unreadable body"})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var payload carrierStatusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.recordWebhook(c, "carrier", "", "", "400", start, false, "malformed payload")
		c.JSON(http.StatusOK, gin.H{"message": "malformed payload"})
		return
	}

	if payload.OrderCode == "" || payload.Status == "" {
		h.recordWebhook(c, "carrier", payload.OrderCode, payload.WebhookID, "400", start, false, "missing order_code or status")
		c.JSON(http.StatusOK, gin.H{"message": "missing required fields"})
		return
	}

	if h.carrierWebhookSecret != "" {
		if !verifyCarrierSignature(body, c.GetHeader("X-Signature"), h.carrierWebhookSecret) {
			h.recordWebhook(c, "carrier", payload.OrderCode, payload.WebhookID, "401", start, false, "invalid signature")
			c.JSON(http.StatusOK, gin.H{"message": "invalid signature"})
			return
		}
	}

	// Duplicate deliveries with the same id are acknowledged without
	// reprocessing.
	if payload.WebhookID != "" {
		first, err := h.locks.MarkWebhookSeen(c.Request.Context(), "carrier", payload.WebhookID, webhookDedupTTL)
		if err == nil && !first {
			h.recordWebhook(c, "carrier", payload.OrderCode, payload.WebhookID, "200", start, true, "duplicate delivery")
			c.JSON(http.StatusOK, gin.H{"message": "duplicate"})
			return
		}
	}

	at := time.Time{}
	if payload.UpdatedDate != "" {
		if t, err := time.Parse(time.RFC3339, payload.UpdatedDate); err == nil {
			at = t
		}
	}

	_, err = h.shipping.ApplyCarrierStatus(c.Request.Context(), payload.OrderCode, payload.Status, at)
	if err != nil {
		h.recordWebhook(c, "carrier", payload.OrderCode, payload.WebhookID, "500", start, false, err.Error())
		c.JSON(http.StatusOK, gin.H{"message": "processing failed"})
		return
	}

	h.recordWebhook(c, "carrier", payload.OrderCode, payload.WebhookID, "200", start, true, "")
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// verifyCarrierSignature checks an HMAC-SHA256 hex signature over the raw
// request body.
func verifyCarrierSignature(body []byte, supplied, secret string) bool {
	if supplied == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(supplied))
}

// recordWebhook folds one webhook delivery into the monitor and the durable
// audit log. webhookID is the caller-supplied delivery id; deliveries
// without one get a locally generated correlation id instead.
func (h *Handler) recordWebhook(c *gin.Context, source, orderRef, webhookID, responseCode string, start time.Time, success bool, errText string) {
	duration := time.Since(start)

	outcome := "failure"
	if success {
		outcome = "success"
	}
	util.WebhooksReceivedTotal.WithLabelValues(source, outcome).Inc()
	util.WebhookProcessingLatency.WithLabelValues(source).Observe(duration.Seconds())

	if webhookID == "" {
		webhookID = uuid.New().String()
	}

	h.monitor.Record(c.Request.Context(), models.WebhookEvent{
		Source:       source,
		OrderRef:     orderRef,
		ResponseCode: responseCode,
		DurationMs:   duration.Milliseconds(),
		Success:      success,
		ErrorText:    errText,
		SourceIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		WebhookID:    webhookID,
	})
}
