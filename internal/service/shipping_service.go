package service

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// ShippingService is the shipment ledger: it owns shipping state and the
// carrier-facing order lifecycle.
type ShippingService struct {
	store    ShippingRepository
	carrier  CarrierAPI
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	fromDistrictID int
	fromWardCode   string
}

// NewShippingService creates a new shipping service
func NewShippingService(store ShippingRepository, api CarrierAPI, notifier Notifier, cfg config.CarrierConfig) *ShippingService {
	return &ShippingService{
		store:          store,
		carrier:        api,
		notifier:       notifier,
		logger:         util.GetLogger(),
		now:            time.Now,
		fromDistrictID: cfg.FromDistrictID,
		fromWardCode:   cfg.FromWardCode,
	}
}

// ShippingAddress is the destination captured at order time.
type ShippingAddress struct {
	RecipientName  string `json:"recipient_name" binding:"required"`
	RecipientPhone string `json:"recipient_phone" binding:"required"`
	AddressLine    string `json:"address_line" binding:"required"`
	WardCode       string `json:"ward_code" binding:"required"`
	DistrictID     int    `json:"district_id" binding:"required"`
	ProvinceID     int    `json:"province_id" binding:"required"`
}

// totalWeight sums line-item weights, defaulting items that declare none.
func totalWeight(items []models.OrderItem) int {
	total := 0
	for _, it := range items {
		w := it.WeightGrams
		if w <= 0 {
			w = carrier.DefaultItemWeightGrams
		}
		total += w * it.Quantity
	}
	return total
}

// QuoteFee validates the destination against the carrier address hierarchy
// and requests a fee quote for the given items.
func (ss *ShippingService) QuoteFee(ctx context.Context, addr ShippingAddress, items []models.OrderItem) (float64, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.QuoteFee")
	defer span.End()

	if err := ss.carrier.ValidateAddress(ctx, addr.ProvinceID, addr.DistrictID, addr.WardCode); err != nil {
		return 0, err
	}

	return ss.carrier.CalculateFee(ctx, carrier.FeeRequest{
		FromDistrictID: ss.fromDistrictID,
		ToDistrictID:   addr.DistrictID,
		ToWardCode:     addr.WardCode,
		WeightGrams:    totalWeight(items),
	})
}

// RegisterWithCarrier submits the shipment of an already-committed order to
// the carrier and stores the carrier's order code, sort code, fee and
// delivery estimate. Carrier failures propagate unmodified; the caller owns
// retry policy.
func (ss *ShippingService) RegisterWithCarrier(ctx context.Context, order *models.Order, items []models.OrderItem, sh *models.Shipping) error {
	ctx, span := util.StartSpan(ctx, "ShippingService.RegisterWithCarrier")
	defer span.End()

	start := ss.now()
	defer func() {
		util.ShipmentCreateLatency.Observe(time.Since(start).Seconds())
	}()

	carrierItems := make([]carrier.OrderItem, 0, len(items))
	for _, it := range items {
		w := it.WeightGrams
		if w <= 0 {
			w = carrier.DefaultItemWeightGrams
		}
		carrierItems = append(carrierItems, carrier.OrderItem{
			Name:        it.ProductName,
			Code:        it.SKU,
			Quantity:    it.Quantity,
			WeightGrams: w,
		})
	}

	var codAmount int64
	if !order.IsPaid {
		// Collect on delivery when the order is not prepaid.
		codAmount = int64(order.Total)
	}

	result, err := ss.carrier.CreateOrder(ctx, carrier.CreateOrderRequest{
		ToName:          sh.RecipientName,
		ToPhone:         sh.RecipientPhone,
		ToAddress:       sh.AddressLine,
		ToWardCode:      sh.WardCode,
		ToDistrictID:    sh.DistrictID,
		FromDistrictID:  ss.fromDistrictID,
		FromWardCode:    ss.fromWardCode,
		CODAmount:       codAmount,
		WeightGrams:     sh.WeightGrams,
		ClientOrderCode: order.OrderNumber,
		Items:           carrierItems,
	})
	if err != nil {
		util.ShipmentsFailedTotal.Inc()
		return err
	}

	sh.CarrierOrderCode = result.OrderCode
	sh.SortCode = result.SortCode
	sh.TrackingNumber = result.OrderCode
	if result.TotalFee > 0 {
		sh.Fee = result.TotalFee
	}
	if !result.ExpectedDeliveryTime.IsZero() {
		t := result.ExpectedDeliveryTime
		sh.ExpectedDelivery = &t
	}

	if err := ss.store.UpdateShippingCarrierInfo(ctx, sh); err != nil {
		return fmt.Errorf("failed to store carrier info for order %d: %w", order.ID, err)
	}

	util.ShipmentsCreatedTotal.Inc()
	if err := ss.notifier.PublishShipmentCreated(ctx, order.ID, result.OrderCode); err != nil {
		ss.logger.Error("Failed to publish ShipmentCreated event", zap.Error(err))
	}

	return nil
}

// ApplyCarrierStatus maps a carrier status code and applies it to the
// shipment identified by the carrier order code. The write is idempotent: a
// status equal to the stored one, or an unmapped code, is a no-op.
// shippedAt/deliveredAt are stamped the first time those states are reached
// and never move afterwards.
func (ss *ShippingService) ApplyCarrierStatus(ctx context.Context, carrierOrderCode, carrierStatus string, at time.Time) (*models.Shipping, error) {
	ctx, span := util.StartSpan(ctx, "ShippingService.ApplyCarrierStatus")
	defer span.End()

	sh, err := ss.store.GetShippingByCarrierCode(ctx, carrierOrderCode)
	if err != nil {
		return nil, err
	}

	mapped := carrier.MapStatus(carrierStatus)
	if mapped == models.ShippingStatusUnknown {
		ss.logger.Warn("Unmapped carrier status, ignoring",
			zap.String("carrier_order_code", carrierOrderCode),
			zap.String("carrier_status", carrierStatus))
		return sh, nil
	}
	if mapped == sh.Status {
		return sh, nil
	}

	sh.Status = mapped
	if at.IsZero() {
		at = ss.now()
	}
	switch mapped {
	case models.ShippingStatusShipped, models.ShippingStatusOutForDelivery:
		if sh.ShippedAt == nil {
			sh.ShippedAt = &at
		}
	case models.ShippingStatusDelivered:
		if sh.ShippedAt == nil {
			sh.ShippedAt = &at
		}
		if sh.DeliveredAt == nil {
			sh.DeliveredAt = &at
		}
	}

	if err := ss.store.UpdateShippingStatus(ctx, sh); err != nil {
		return nil, fmt.Errorf("failed to update shipping %d: %w", sh.ID, err)
	}

	ss.logger.Info("Shipping status updated",
		zap.Int64("order_id", sh.OrderID),
		zap.String("carrier_order_code", carrierOrderCode),
		zap.String("status", string(mapped)))
	return sh, nil
}

// UpdateFromTracking pulls the current carrier status for a shipment and
// applies it. Re-running it with an unchanged carrier status is a no-op.
func (ss *ShippingService) UpdateFromTracking(ctx context.Context, carrierOrderCode string) (*models.Shipping, error) {
	status, err := ss.carrier.GetTrackingStatus(ctx, carrierOrderCode)
	if err != nil {
		return nil, err
	}
	return ss.ApplyCarrierStatus(ctx, carrierOrderCode, status, ss.now())
}

// SetStatus applies an internally-decided shipping status (orchestrator side
// effects), with the same first-time timestamp stamping as carrier updates.
func (ss *ShippingService) SetStatus(ctx context.Context, sh *models.Shipping, status models.ShippingStatus) error {
	if sh.Status == status {
		return nil
	}
	sh.Status = status
	at := ss.now()
	switch status {
	case models.ShippingStatusShipped, models.ShippingStatusOutForDelivery:
		if sh.ShippedAt == nil {
			sh.ShippedAt = &at
		}
	case models.ShippingStatusDelivered:
		if sh.DeliveredAt == nil {
			sh.DeliveredAt = &at
		}
	}
	return ss.store.UpdateShippingStatus(ctx, sh)
}

// Cancel cancels the shipment of an order: best-effort at the carrier, then
// locally. A carrier refusal is logged, not fatal.
func (ss *ShippingService) Cancel(ctx context.Context, orderID int64) error {
	sh, err := ss.store.GetShippingByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	if sh == nil || sh.Status == models.ShippingStatusCancelled {
		return nil
	}

	if sh.CarrierOrderCode != "" {
		if err := ss.carrier.CancelOrder(ctx, sh.CarrierOrderCode); err != nil {
			ss.logger.Error("Carrier cancel failed",
				zap.String("carrier_order_code", sh.CarrierOrderCode),
				zap.Error(err))
		}
	}

	return ss.SetStatus(ctx, sh, models.ShippingStatusCancelled)
}

// GetByOrderID returns the shipment of an order, or nil when none exists.
func (ss *ShippingService) GetByOrderID(ctx context.Context, orderID int64) (*models.Shipping, error) {
	return ss.store.GetShippingByOrderID(ctx, orderID)
}
