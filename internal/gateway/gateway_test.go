package gateway

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"fulfillment-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdapter(secret string) *Adapter {
	return NewAdapter(config.GatewayConfig{
		TmnCode:             "TESTTMN",
		HashSecret:          secret,
		PayURL:              "https://pay.example/vpcpay.html",
		ReturnURL:           "https://shop.example/payment/return",
		TimezoneOffsetHours: 7,
	})
}

func TestSignVerifyRoundTrip(t *testing.T) {
	params := map[string]string{
		"vnp_TxnRef":       "ORD-20250101-000123",
		"vnp_Amount":       "1500000",
		"vnp_ResponseCode": "00",
		"vnp_OrderInfo":    "Thanh toan don hang",
	}
	secret := "s3cret-key"

	sig := Sign(params, secret)
	assert.True(t, Verify(params, secret, sig))

	// Flipping any single character must break verification.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, Verify(params, secret, string(flipped)))

	assert.False(t, Verify(params, "wrong-secret", sig))
}

func TestSignIgnoresSignatureFields(t *testing.T) {
	params := map[string]string{"a": "1", "b": "2"}
	base := Sign(params, "k")

	params[paramSecureHash] = "deadbeef"
	params[paramSecureHashType] = "HmacSHA512"
	assert.Equal(t, base, Sign(params, "k"))
}

func TestCanonicalizeSortsAndEncodes(t *testing.T) {
	s := canonicalize(map[string]string{
		"z":   "last",
		"a":   "first value",
		"mid": "a&b=c",
	})
	assert.Equal(t, "a=first+value&mid=a%26b%3Dc&z=last", s)
}

func TestBuildPaymentURL(t *testing.T) {
	a := testAdapter("secret")

	raw, err := a.BuildPaymentURL(PaymentRequest{
		TxnRef:    "ORD-20250101-000001",
		Amount:    150000,
		OrderInfo: "order 1",
		ClientIP:  "203.0.113.7",
		CreatedAt: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "15000000", q.Get("vnp_Amount"), "amount must be scaled by 100")
	assert.Equal(t, "ORD-20250101-000001", q.Get("vnp_TxnRef"))
	assert.NotEmpty(t, q.Get(paramSecureHash))
	assert.True(t, strings.HasPrefix(raw, "https://pay.example/vpcpay.html?"))

	// The embedded signature must verify against the embedded params.
	params := map[string]string{}
	for k := range q {
		params[k] = q.Get(k)
	}
	assert.True(t, Verify(params, "secret", q.Get(paramSecureHash)))
}

func TestBuildPaymentURLRejectsEmptyRef(t *testing.T) {
	_, err := testAdapter("secret").BuildPaymentURL(PaymentRequest{Amount: 100})
	assert.Error(t, err)
}

func signedCallback(t *testing.T, secret string, overrides map[string]string) map[string]string {
	t.Helper()
	params := map[string]string{
		"vnp_TxnRef":            "ORD-20250101-000002",
		"vnp_Amount":            "15000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14231456",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20250101171545",
	}
	for k, v := range overrides {
		params[k] = v
	}
	params[paramSecureHash] = Sign(params, secret)
	return params
}

func TestParseCallbackSuccess(t *testing.T) {
	a := testAdapter("secret")

	res, err := a.ParseCallback(signedCallback(t, "secret", nil))
	require.NoError(t, err)

	assert.True(t, res.SignatureOK)
	assert.False(t, res.SignatureSkip)
	assert.True(t, res.Success())
	assert.Equal(t, 150000.0, res.Amount, "amount must be divided by 100")
	assert.Equal(t, "14231456", res.GatewayTxID)

	// Pay date carries the gateway's UTC+7 wall clock.
	assert.Equal(t, time.Date(2025, 1, 1, 10, 15, 45, 0, time.UTC), res.PayDate.UTC())
}

func TestParseCallbackBadSignature(t *testing.T) {
	a := testAdapter("secret")

	params := signedCallback(t, "secret", nil)
	params[paramSecureHash] = strings.Repeat("0", 128)

	res, err := a.ParseCallback(params)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.False(t, res.SignatureOK)
}

func TestParseCallbackUnconfiguredSecretBypasses(t *testing.T) {
	a := testAdapter("")

	params := signedCallback(t, "whatever", nil)
	res, err := a.ParseCallback(params)
	require.NoError(t, err)
	assert.True(t, res.SignatureSkip)
	assert.True(t, res.SignatureOK)
}

func TestParseCallbackMissingFields(t *testing.T) {
	a := testAdapter("secret")

	params := map[string]string{"vnp_Amount": "100"}
	params[paramSecureHash] = Sign(params, "secret")

	_, err := a.ParseCallback(params)
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestSuccessRequiresBothCodes(t *testing.T) {
	a := testAdapter("secret")

	res, err := a.ParseCallback(signedCallback(t, "secret", map[string]string{
		"vnp_TransactionStatus": "02",
	}))
	require.NoError(t, err)
	assert.False(t, res.Success())

	res, err = a.ParseCallback(signedCallback(t, "secret", map[string]string{
		"vnp_ResponseCode": "24",
	}))
	require.NoError(t, err)
	assert.False(t, res.Success())
}
