package store

import (
	"context"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateShipmentIntentTx writes the shipment outbox row inside the
// order-creation transaction, before the carrier is ever called.
func (s *Store) CreateShipmentIntentTx(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO shipment_outbox (order_id, status) VALUES ($1, $2)",
		orderID, models.IntentStatusPending)
	return err
}

// GetPendingShipmentIntents lists intents awaiting a successful carrier call,
// oldest first. maxAttempts caps how often the sweep retries one intent.
func (s *Store) GetPendingShipmentIntents(ctx context.Context, maxAttempts, limit int) ([]models.ShipmentIntent, error) {
	var intents []models.ShipmentIntent
	err := s.db.SelectContext(ctx, &intents,
		`SELECT * FROM shipment_outbox
		 WHERE status = $1 AND attempts < $2
		 ORDER BY created_at LIMIT $3`,
		models.IntentStatusPending, maxAttempts, limit)
	return intents, err
}

// MarkShipmentIntentDone closes an intent after the carrier accepted the
// shipment.
func (s *Store) MarkShipmentIntentDone(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shipment_outbox SET status = $1, completed_at = $2 WHERE order_id = $3",
		models.IntentStatusDone, at, orderID)
	return err
}

// RecordShipmentIntentFailure bumps the attempt counter and stores the error.
func (s *Store) RecordShipmentIntentFailure(ctx context.Context, orderID int64, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shipment_outbox SET attempts = attempts + 1, last_error = $1
		 WHERE order_id = $2 AND status = $3`,
		lastError, orderID, models.IntentStatusPending)
	return err
}

// MarkShipmentIntentFailed gives up on an intent (terminal, operator visible).
func (s *Store) MarkShipmentIntentFailed(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE shipment_outbox SET status = $1 WHERE order_id = $2",
		models.IntentStatusFailed, orderID)
	return err
}
