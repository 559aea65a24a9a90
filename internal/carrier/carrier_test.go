package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	assert.Equal(t, models.ShippingStatusPending, MapStatus("ready_to_pick"))
	assert.Equal(t, models.ShippingStatusShipped, MapStatus("transporting"))
	assert.Equal(t, models.ShippingStatusOutForDelivery, MapStatus("delivering"))
	assert.Equal(t, models.ShippingStatusDelivered, MapStatus("delivered"))
	assert.Equal(t, models.ShippingStatusReturned, MapStatus("returned"))
	assert.Equal(t, models.ShippingStatusLost, MapStatus("lost"))
	assert.Equal(t, models.ShippingStatusCancelled, MapStatus("cancel"))

	// Vocabulary drift maps to the sentinel, never an error.
	assert.Equal(t, models.ShippingStatusUnknown, MapStatus("teleporting"))
	assert.Equal(t, models.ShippingStatusUnknown, MapStatus(""))
}

func TestAddressCacheTTL(t *testing.T) {
	cache := NewAddressCache(60 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Set("provinces", []Province{{ProvinceID: 1, Name: "Hanoi"}})

	v, ok := cache.Get("provinces")
	require.True(t, ok)
	assert.Len(t, v.([]Province), 1)

	// Within TTL the entry stays visible.
	now = now.Add(59 * time.Second)
	_, ok = cache.Get("provinces")
	assert.True(t, ok)

	// Past TTL the entry reads as absent even before a sweep.
	now = now.Add(2 * time.Second)
	_, ok = cache.Get("provinces")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())

	removed := cache.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, cache.Len())
}

func testServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		var data interface{}
		switch r.URL.Path {
		case "/master-data/province":
			data = []Province{{ProvinceID: 201, Name: "Hanoi"}}
		case "/master-data/district":
			data = []District{{DistrictID: 1442, ProvinceID: 201, Name: "Cau Giay"}}
		case "/master-data/ward":
			data = []Ward{{WardCode: "1A0401", DistrictID: 1442, Name: "Dich Vong"}}
		case "/v2/shipping-order/fee":
			data = feeData{Total: 36500}
		case "/v2/shipping-order/create":
			assert.Equal(t, "test-token", r.Header.Get("Token"))
			data = CreateOrderResult{OrderCode: "GHN123", SortCode: "19-00-01", TotalFee: 36500}
		case "/v2/shipping-order/detail":
			data = trackingData{Status: "delivering"}
		case "/v2/switch-status/cancel":
			data = nil
		default:
			http.NotFound(w, r)
			return
		}
		raw, _ := json.Marshal(data)
		json.NewEncoder(w).Encode(envelope{Code: 200, Message: "Success", Data: raw})
	}))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.CarrierConfig{
		BaseURL:         baseURL,
		Token:           "test-token",
		ShopID:          12345,
		AddressCacheTTL: 3600,
	})
}

func TestGetProvincesCached(t *testing.T) {
	var hits int32
	srv := testServer(t, &hits)
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()

	first, err := c.GetProvinces(ctx)
	require.NoError(t, err)
	second, err := c.GetProvinces(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second read must come from cache")
}

func TestValidateAddress(t *testing.T) {
	var hits int32
	srv := testServer(t, &hits)
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()

	assert.NoError(t, c.ValidateAddress(ctx, 201, 1442, "1A0401"))
	assert.Error(t, c.ValidateAddress(ctx, 201, 9999, "1A0401"))
	assert.Error(t, c.ValidateAddress(ctx, 201, 1442, "nope"))
}

func TestCreateOrderAndFee(t *testing.T) {
	var hits int32
	srv := testServer(t, &hits)
	defer srv.Close()

	c := testClient(t, srv.URL)
	ctx := context.Background()

	fee, err := c.CalculateFee(ctx, FeeRequest{ToDistrictID: 1442, ToWardCode: "1A0401", WeightGrams: 1000})
	require.NoError(t, err)
	assert.Equal(t, 36500.0, fee)

	res, err := c.CreateOrder(ctx, CreateOrderRequest{
		ToName:       "Nguyen Van A",
		ToPhone:      "0900000000",
		ToAddress:    "1 Duong Lang",
		ToWardCode:   "1A0401",
		ToDistrictID: 1442,
	})
	require.NoError(t, err)
	assert.Equal(t, "GHN123", res.OrderCode)
	assert.Equal(t, "19-00-01", res.SortCode)

	status, err := c.GetTrackingStatus(ctx, "GHN123")
	require.NoError(t, err)
	assert.Equal(t, "delivering", status)

	assert.NoError(t, c.CancelOrder(ctx, "GHN123"))
}

func TestCarrierErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(envelope{Code: 400, Message: "weight is required"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight is required")
}
