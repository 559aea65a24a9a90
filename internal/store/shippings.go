package store

import (
	"context"
	"database/sql"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateShippingTx inserts the shipping address snapshot inside the
// order-creation transaction. Carrier fields are filled in later, once the
// carrier accepts the shipment.
func (s *Store) CreateShippingTx(ctx context.Context, tx *sqlx.Tx, sh *models.Shipping) error {
	query := `
		INSERT INTO shippings (order_id, status, fee, weight_grams,
			recipient_name, recipient_phone, address_line, ward_code, district_id, province_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, sh, query,
		sh.OrderID, sh.Status, sh.Fee, sh.WeightGrams,
		sh.RecipientName, sh.RecipientPhone, sh.AddressLine,
		sh.WardCode, sh.DistrictID, sh.ProvinceID)
}

// UpdateShippingCarrierInfo stores the carrier's acknowledgment of a
// shipment: order code, sort code, final fee and delivery estimate.
func (s *Store) UpdateShippingCarrierInfo(ctx context.Context, sh *models.Shipping) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shippings SET carrier_order_code = $1, sort_code = $2, tracking_number = $3,
			fee = $4, expected_delivery = $5, updated_at = NOW()
		 WHERE id = $6`,
		sh.CarrierOrderCode, sh.SortCode, sh.TrackingNumber,
		sh.Fee, sh.ExpectedDelivery, sh.ID)
	return err
}

// GetShippingByOrderID retrieves the shipment of an order. Returns nil
// without error when the order has no shipment yet.
func (s *Store) GetShippingByOrderID(ctx context.Context, orderID int64) (*models.Shipping, error) {
	var sh models.Shipping
	err := s.db.GetContext(ctx, &sh, "SELECT * FROM shippings WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// GetShippingByCarrierCode locates a shipment by the carrier's order code.
func (s *Store) GetShippingByCarrierCode(ctx context.Context, carrierOrderCode string) (*models.Shipping, error) {
	var sh models.Shipping
	err := s.db.GetContext(ctx, &sh,
		"SELECT * FROM shippings WHERE carrier_order_code = $1", carrierOrderCode)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("shipping not found for carrier code: %s", carrierOrderCode)
	}
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

// UpdateShippingStatus writes the shipping status and, when the pointers are
// non-nil, first-time stamps shipped_at/delivered_at. COALESCE keeps an
// already-set timestamp from moving.
func (s *Store) UpdateShippingStatus(ctx context.Context, sh *models.Shipping) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shippings SET status = $1,
			shipped_at = COALESCE(shipped_at, $2),
			delivered_at = COALESCE(delivered_at, $3),
			updated_at = NOW()
		 WHERE id = $4`,
		sh.Status, sh.ShippedAt, sh.DeliveredAt, sh.ID)
	return err
}
