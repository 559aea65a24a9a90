// Package carrier talks to the shipping carrier's public API: order
// creation, fee quotes, tracking, the province/district/ward address
// hierarchy, and the mapping of carrier status vocabulary onto internal
// shipping statuses.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// DefaultItemWeightGrams is assumed when a line item declares no weight.
const DefaultItemWeightGrams = 500

// Client is the carrier API client. Address master data is served from the
// TTL cache and refreshed transparently on miss or expiry.
type Client struct {
	baseURL string
	token   string
	shopID  int
	http    *http.Client
	cache   *AddressCache
	logger  *zap.Logger
}

// NewClient creates a carrier client from config.
func NewClient(cfg config.CarrierConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		shopID:  cfg.ShopID,
		http:    &http.Client{Timeout: 15 * time.Second},
		cache:   NewAddressCache(time.Duration(cfg.AddressCacheTTL) * time.Second),
		logger:  util.GetLogger(),
	}
}

// Cache exposes the address cache for the expiry sweep.
func (c *Client) Cache() *AddressCache { return c.cache }

// envelope is the carrier's uniform response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("carrier: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("carrier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)
	if c.shopID > 0 {
		req.Header.Set("ShopId", strconv.Itoa(c.shopID))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("carrier: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("carrier: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("carrier: decode response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || env.Code != http.StatusOK {
		return fmt.Errorf("carrier: API error (%d/%d): %s", resp.StatusCode, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("carrier: decode data: %w", err)
		}
	}
	return nil
}

// Province is one entry of the carrier's top address tier.
type Province struct {
	ProvinceID int    `json:"ProvinceID"`
	Name       string `json:"ProvinceName"`
}

// District is one entry of the carrier's middle address tier.
type District struct {
	DistrictID int    `json:"DistrictID"`
	ProvinceID int    `json:"ProvinceID"`
	Name       string `json:"DistrictName"`
}

// Ward is one entry of the carrier's bottom address tier.
type Ward struct {
	WardCode   string `json:"WardCode"`
	DistrictID int    `json:"DistrictID"`
	Name       string `json:"WardName"`
}

// GetProvinces returns all provinces, cache-backed.
func (c *Client) GetProvinces(ctx context.Context) ([]Province, error) {
	if v, ok := c.cache.Get("provinces"); ok {
		return v.([]Province), nil
	}
	var provinces []Province
	if err := c.call(ctx, http.MethodGet, "/master-data/province", nil, &provinces); err != nil {
		return nil, err
	}
	c.cache.Set("provinces", provinces)
	return provinces, nil
}

// GetDistricts returns the districts of a province, cache-backed.
func (c *Client) GetDistricts(ctx context.Context, provinceID int) ([]District, error) {
	key := fmt.Sprintf("districts:%d", provinceID)
	if v, ok := c.cache.Get(key); ok {
		return v.([]District), nil
	}
	var districts []District
	payload := map[string]int{"province_id": provinceID}
	if err := c.call(ctx, http.MethodPost, "/master-data/district", payload, &districts); err != nil {
		return nil, err
	}
	c.cache.Set(key, districts)
	return districts, nil
}

// GetWards returns the wards of a district, cache-backed.
func (c *Client) GetWards(ctx context.Context, districtID int) ([]Ward, error) {
	key := fmt.Sprintf("wards:%d", districtID)
	if v, ok := c.cache.Get(key); ok {
		return v.([]Ward), nil
	}
	var wards []Ward
	payload := map[string]int{"district_id": districtID}
	if err := c.call(ctx, http.MethodPost, "/master-data/ward", payload, &wards); err != nil {
		return nil, err
	}
	c.cache.Set(key, wards)
	return wards, nil
}

// ValidateAddress checks that the district belongs to the province and the
// ward belongs to the district.
func (c *Client) ValidateAddress(ctx context.Context, provinceID, districtID int, wardCode string) error {
	districts, err := c.GetDistricts(ctx, provinceID)
	if err != nil {
		return err
	}
	found := false
	for _, d := range districts {
		if d.DistrictID == districtID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("carrier: district %d not in province %d", districtID, provinceID)
	}

	wards, err := c.GetWards(ctx, districtID)
	if err != nil {
		return err
	}
	for _, w := range wards {
		if w.WardCode == wardCode {
			return nil
		}
	}
	return fmt.Errorf("carrier: ward %s not in district %d", wardCode, districtID)
}

// FeeRequest asks for a delivery fee quote.
type FeeRequest struct {
	FromDistrictID int    `json:"from_district_id"`
	ToDistrictID   int    `json:"to_district_id"`
	ToWardCode     string `json:"to_ward_code"`
	WeightGrams    int    `json:"weight"`
	ServiceTypeID  int    `json:"service_type_id"`
}

type feeData struct {
	Total float64 `json:"total"`
}

// CalculateFee requests a fee quote for a shipment.
func (c *Client) CalculateFee(ctx context.Context, req FeeRequest) (float64, error) {
	if req.ServiceTypeID == 0 {
		req.ServiceTypeID = 2 // standard delivery
	}
	var data feeData
	if err := c.call(ctx, http.MethodPost, "/v2/shipping-order/fee", req, &data); err != nil {
		return 0, err
	}
	return data.Total, nil
}

// OrderItem is one line of a carrier order-creation request.
type OrderItem struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Quantity    int    `json:"quantity"`
	WeightGrams int    `json:"weight"`
}

// CreateOrderRequest submits a shipment to the carrier.
type CreateOrderRequest struct {
	ToName          string      `json:"to_name"`
	ToPhone         string      `json:"to_phone"`
	ToAddress       string      `json:"to_address"`
	ToWardCode      string      `json:"to_ward_code"`
	ToDistrictID    int         `json:"to_district_id"`
	FromDistrictID  int         `json:"from_district_id"`
	FromWardCode    string      `json:"from_ward_code"`
	CODAmount       int64       `json:"cod_amount"`
	WeightGrams     int         `json:"weight"`
	ServiceTypeID   int         `json:"service_type_id"`
	PaymentTypeID   int         `json:"payment_type_id"`
	RequiredNote    string      `json:"required_note"`
	ClientOrderCode string      `json:"client_order_code"`
	Items           []OrderItem `json:"items"`
}

// CreateOrderResult is the carrier's acknowledgment of a new shipment.
type CreateOrderResult struct {
	OrderCode            string    `json:"order_code"`
	SortCode             string    `json:"sort_code"`
	TotalFee             float64   `json:"total_fee"`
	ExpectedDeliveryTime time.Time `json:"expected_delivery_time"`
}

// CreateOrder submits an order-creation request.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.ServiceTypeID == 0 {
		req.ServiceTypeID = 2
	}
	if req.PaymentTypeID == 0 {
		req.PaymentTypeID = 1 // shop pays the fee
	}
	if req.RequiredNote == "" {
		req.RequiredNote = "KHONGCHOXEMHANG"
	}
	var result CreateOrderResult
	if err := c.call(ctx, http.MethodPost, "/v2/shipping-order/create", req, &result); err != nil {
		return nil, err
	}
	c.logger.Info("Carrier order created",
		zap.String("order_code", result.OrderCode),
		zap.Float64("fee", result.TotalFee))
	return &result, nil
}

type trackingData struct {
	Status string `json:"status"`
}

// GetTrackingStatus fetches the current carrier status for a shipment.
func (c *Client) GetTrackingStatus(ctx context.Context, orderCode string) (string, error) {
	payload := map[string]string{"order_code": orderCode}
	var data trackingData
	if err := c.call(ctx, http.MethodPost, "/v2/shipping-order/detail", payload, &data); err != nil {
		return "", err
	}
	return data.Status, nil
}

// CancelOrder asks the carrier to cancel a shipment.
func (c *Client) CancelOrder(ctx context.Context, orderCode string) error {
	payload := map[string][]string{"order_codes": {orderCode}}
	return c.call(ctx, http.MethodPost, "/v2/switch-status/cancel", payload, nil)
}
