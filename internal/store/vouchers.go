package store

import (
	"context"
	"database/sql"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetVoucherByCode retrieves a voucher by code. Returns nil without error
// when the code does not exist.
func (s *Store) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, "SELECT * FROM vouchers WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// IncrementVoucherUsageTx bumps used_count inside the order transaction.
func (s *Store) IncrementVoucherUsageTx(ctx context.Context, tx *sqlx.Tx, voucherID int64) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE vouchers SET used_count = used_count + 1 WHERE id = $1", voucherID)
	return err
}
