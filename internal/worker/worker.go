package worker

import (
	"context"
	"sync"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// sweepBatchSize bounds how many shipment intents one sweep attempts.
const sweepBatchSize = 50

// ShipmentSweeper retries shipment registrations left pending by carrier
// failures. *service.OrderService implements it.
type ShipmentSweeper interface {
	RetryPendingShipments(ctx context.Context, limit int) (int, error)
}

// PaymentSweeper cancels gateway payments abandoned past the staleness
// window. *service.PaymentService implements it.
type PaymentSweeper interface {
	SweepAbandoned(ctx context.Context) (int, error)
}

// RetentionCleaner enforces the webhook-event retention window.
// *monitor.WebhookMonitor implements it.
type RetentionCleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// AddressSweeper drops expired carrier address-cache entries.
// *carrier.AddressCache implements it.
type AddressSweeper interface {
	Sweep() int
}

// Worker runs the background maintenance loops: the shipment outbox sweep,
// the abandoned-payment sweep, the address-cache expiry sweep and the
// webhook retention cleanup.
type Worker struct {
	shipments ShipmentSweeper
	payments  PaymentSweeper
	retention RetentionCleaner
	addresses AddressSweeper
	logger    *zap.Logger

	sweepInterval   time.Duration
	cleanupInterval time.Duration
	retentionDays   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the background worker.
func New(
	shipments ShipmentSweeper,
	payments PaymentSweeper,
	retention RetentionCleaner,
	addresses AddressSweeper,
	cfg *config.Config,
) *Worker {
	return &Worker{
		shipments:       shipments,
		payments:        payments,
		retention:       retention,
		addresses:       addresses,
		logger:          util.GetLogger(),
		sweepInterval:   time.Duration(cfg.Business.SweepIntervalSec) * time.Second,
		cleanupInterval: time.Duration(cfg.Business.CleanupIntervalSec) * time.Second,
		retentionDays:   cfg.Monitor.RetentionDays,
	}
}

// Start launches the ticker loops. It returns immediately; Stop shuts the
// loops down.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("Starting background worker",
		zap.Duration("sweep_interval", w.sweepInterval),
		zap.Duration("cleanup_interval", w.cleanupInterval))

	w.wg.Add(2)
	go w.runSweeps(ctx)
	go w.runCleanup(ctx)
}

// Stop stops the worker and waits for in-flight iterations to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Background worker stopped")
}

// runSweeps retries failed shipment registrations, cancels abandoned
// gateway payments and drops expired address-cache entries.
func (w *Worker) runSweeps(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done, err := w.shipments.RetryPendingShipments(ctx, sweepBatchSize); err != nil {
				w.logger.Error("Shipment outbox sweep failed", zap.Error(err))
			} else if done > 0 {
				w.logger.Info("Shipment outbox sweep", zap.Int("registered", done))
			}

			if _, err := w.payments.SweepAbandoned(ctx); err != nil {
				w.logger.Error("Abandoned payment sweep failed", zap.Error(err))
			}

			if removed := w.addresses.Sweep(); removed > 0 {
				w.logger.Debug("Address cache sweep", zap.Int("removed", removed))
			}
		}
	}
}

// runCleanup enforces the webhook-event retention window.
func (w *Worker) runCleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.retention.Cleanup(ctx, w.retentionDays); err != nil {
				w.logger.Error("Webhook retention cleanup failed", zap.Error(err))
			}
		}
	}
}
