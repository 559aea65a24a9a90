// Package gateway implements the payment-gateway signing protocol: building
// signed payment-initiation URLs and verifying/parsing signed IPN callbacks.
// It holds no state beyond credentials and performs no I/O.
package gateway

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"fulfillment-service/config"
)

// Gateway response / transaction-status codes. A payment is successful only
// when both the response code and the transaction status are "00".
const (
	CodeSuccess = "00"
)

const payDateLayout = "20060102150405"

var (
	// ErrInvalidSignature is returned when a callback's secure hash does not
	// match the recomputed one.
	ErrInvalidSignature = errors.New("gateway: invalid signature")
	// ErrMissingFields is returned when a callback lacks the correlating
	// transaction reference or response code.
	ErrMissingFields = errors.New("gateway: missing required callback fields")
)

// Adapter signs outbound payment URLs and verifies inbound callbacks.
type Adapter struct {
	tmnCode    string
	hashSecret string
	payURL     string
	returnURL  string
	location   *time.Location
}

// NewAdapter creates a gateway adapter from config. An empty hash secret
// disables signature verification; that bypass is for non-production only.
func NewAdapter(cfg config.GatewayConfig) *Adapter {
	return &Adapter{
		tmnCode:    cfg.TmnCode,
		hashSecret: cfg.HashSecret,
		payURL:     cfg.PayURL,
		returnURL:  cfg.ReturnURL,
		location:   time.FixedZone("gateway", cfg.TimezoneOffsetHours*3600),
	}
}

// PaymentRequest is the input for building a payment-initiation URL.
type PaymentRequest struct {
	TxnRef    string // order number, echoed back in the callback
	Amount    float64
	OrderInfo string
	ClientIP  string
	CreatedAt time.Time
}

// BuildPaymentURL assembles and signs the redirect URL that sends the
// customer to the gateway's hosted payment page. The amount is transmitted
// scaled by 100 per the gateway's smallest-unit convention.
func (a *Adapter) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", fmt.Errorf("gateway: empty transaction reference")
	}

	created := req.CreatedAt.In(a.location)
	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    a.tmnCode,
		"vnp_Amount":     strconv.FormatInt(int64(math.Round(req.Amount*100)), 10),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  a.returnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": created.Format(payDateLayout),
		"vnp_ExpireDate": created.Add(15 * time.Minute).Format(payDateLayout),
	}

	signature := Sign(params, a.hashSecret)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set(paramSecureHash, signature)

	return a.payURL + "?" + q.Encode(), nil
}

// CallbackResult is the strictly-parsed outcome of an IPN callback.
type CallbackResult struct {
	TxnRef        string
	Amount        float64
	ResponseCode  string
	TxnStatus     string
	GatewayTxID   string
	BankCode      string
	PayDate       time.Time
	SignatureOK   bool
	SignatureSkip bool // secret unconfigured, verification bypassed
}

// Success reports whether the callback denotes a settled payment. Both the
// response code and the transaction status must be "00"; either alone is
// insufficient.
func (r *CallbackResult) Success() bool {
	return r.ResponseCode == CodeSuccess && r.TxnStatus == CodeSuccess
}

// ParseCallback verifies the signature of an inbound callback parameter map
// and decodes it. ErrInvalidSignature is returned on hash mismatch unless
// the shared secret is unconfigured. ErrMissingFields is returned when the
// transaction reference or response code is absent.
func (a *Adapter) ParseCallback(params map[string]string) (*CallbackResult, error) {
	res := &CallbackResult{
		TxnRef:       params["vnp_TxnRef"],
		ResponseCode: params["vnp_ResponseCode"],
		TxnStatus:    params["vnp_TransactionStatus"],
		GatewayTxID:  params["vnp_TransactionNo"],
		BankCode:     params["vnp_BankCode"],
	}

	if a.hashSecret == "" {
		res.SignatureSkip = true
		res.SignatureOK = true
	} else {
		res.SignatureOK = Verify(params, a.hashSecret, params[paramSecureHash])
		if !res.SignatureOK {
			return res, ErrInvalidSignature
		}
	}

	if res.TxnRef == "" || res.ResponseCode == "" {
		return res, ErrMissingFields
	}

	if raw := params["vnp_Amount"]; raw != "" {
		scaled, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return res, fmt.Errorf("gateway: bad amount %q: %w", raw, err)
		}
		res.Amount = float64(scaled) / 100
	}

	if raw := params["vnp_PayDate"]; raw != "" {
		t, err := time.ParseInLocation(payDateLayout, raw, a.location)
		if err != nil {
			return res, fmt.Errorf("gateway: bad pay date %q: %w", raw, err)
		}
		res.PayDate = t
	}

	return res, nil
}
