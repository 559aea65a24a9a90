// Package monitor records every inbound webhook attempt, keeps rolling
// in-memory metrics over them, evaluates health thresholds and raises
// alerts. The in-memory state is an operational signal, not a source of
// truth; the durable webhook_events table is.
package monitor

import (
	"context"
	"sync"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// EventStore is the durable side of the monitor.
type EventStore interface {
	InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
	DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Health levels
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Threshold constants for alert evaluation and health derivation.
const (
	slowProcessingMs      = 5000
	avgProcessingWarnMs   = 3000
	errorRateWarnPct      = 10.0
	errorRateCriticalPct  = 20.0
	minSamplesForRate     = 10
	recentWindow          = 10
	recentFailuresAlert   = 3
	recentFailuresCrit    = 5
	stalenessWindow       = 5 * time.Minute
)

// Alert is one threshold violation raised by Record.
type Alert struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Metrics is a snapshot of the rolling aggregate.
type Metrics struct {
	TotalRequests    int64     `json:"total_requests"`
	SuccessCount     int64     `json:"success_count"`
	FailureCount     int64     `json:"failure_count"`
	ErrorRate        float64   `json:"error_rate"`
	AvgProcessingMs  float64   `json:"avg_processing_ms"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	RecentEventCount int       `json:"recent_event_count"`
}

// WebhookMonitor is constructed once per process and injected wherever
// webhook outcomes are recorded. All state sits behind the mutex; Reset is
// the only way to clear it short of a restart.
type WebhookMonitor struct {
	store  EventStore
	logger *zap.Logger

	mu       sync.Mutex
	total    int64
	success  int64
	failure  int64
	avgMs    float64
	lastAt   time.Time
	ring     []models.WebhookEvent // newest first, bounded by ringSize
	ringSize int

	now func() time.Time
}

// New creates a webhook monitor with a ring buffer of ringSize events.
func New(store EventStore, ringSize int) *WebhookMonitor {
	if ringSize <= 0 {
		ringSize = 100
	}
	return &WebhookMonitor{
		store:    store,
		logger:   util.GetLogger(),
		ring:     make([]models.WebhookEvent, 0, ringSize),
		ringSize: ringSize,
		now:      time.Now,
	}
}

// Record persists the event, folds it into the rolling aggregate and
// evaluates alert thresholds. A failed durable insert is logged and does not
// block in-memory processing. The raised alerts are returned for tests;
// production callers rely on the logs and the alert counter.
func (m *WebhookMonitor) Record(ctx context.Context, e models.WebhookEvent) []Alert {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}

	if err := m.store.InsertWebhookEvent(ctx, &e); err != nil {
		m.logger.Error("Failed to persist webhook event",
			zap.String("source", e.Source),
			zap.String("order_ref", e.OrderRef),
			zap.Error(err))
	}

	m.mu.Lock()
	m.total++
	if e.Success {
		m.success++
	} else {
		m.failure++
	}
	// Incremental running average.
	m.avgMs += (float64(e.DurationMs) - m.avgMs) / float64(m.total)
	m.lastAt = e.CreatedAt

	m.ring = append([]models.WebhookEvent{e}, m.ring...)
	if len(m.ring) > m.ringSize {
		m.ring = m.ring[:m.ringSize]
	}

	alerts := m.evaluateLocked(e)
	m.mu.Unlock()

	for _, a := range alerts {
		util.WebhookAlertsTotal.WithLabelValues(a.Type, a.Severity).Inc()
		m.logger.Warn("Webhook alert",
			zap.String("type", a.Type),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message))
	}
	return alerts
}

// evaluateLocked applies the alert thresholds. Caller holds m.mu.
func (m *WebhookMonitor) evaluateLocked(e models.WebhookEvent) []Alert {
	var alerts []Alert
	now := m.now()

	if e.DurationMs > slowProcessingMs {
		alerts = append(alerts, Alert{
			Type:     "slow_processing",
			Severity: SeverityWarning,
			Message:  "webhook processing exceeded 5000ms",
			At:       now,
		})
	}

	rate := m.errorRateLocked()
	if m.total > minSamplesForRate && rate > errorRateWarnPct {
		severity := SeverityWarning
		if rate > errorRateCriticalPct {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Type:     "high_error_rate",
			Severity: severity,
			Message:  "webhook error rate above threshold",
			At:       now,
		})
	}

	if failures := m.recentFailuresLocked(); failures >= recentFailuresAlert {
		severity := SeverityError
		if failures >= recentFailuresCrit {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			Type:     "consecutive_failures",
			Severity: severity,
			Message:  "multiple recent webhook failures",
			At:       now,
		})
	}

	return alerts
}

func (m *WebhookMonitor) errorRateLocked() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.failure) / float64(m.total) * 100
}

func (m *WebhookMonitor) recentFailuresLocked() int {
	n := len(m.ring)
	if n > recentWindow {
		n = recentWindow
	}
	failures := 0
	for _, e := range m.ring[:n] {
		if !e.Success {
			failures++
		}
	}
	return failures
}

// Snapshot returns the current rolling metrics.
func (m *WebhookMonitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		TotalRequests:    m.total,
		SuccessCount:     m.success,
		FailureCount:     m.failure,
		ErrorRate:        m.errorRateLocked(),
		AvgProcessingMs:  m.avgMs,
		LastProcessedAt:  m.lastAt,
		RecentEventCount: len(m.ring),
	}
}

// RecentEvents returns a copy of the ring buffer, newest first.
func (m *WebhookMonitor) RecentEvents() []models.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WebhookEvent, len(m.ring))
	copy(out, m.ring)
	return out
}

// HealthStatus derives the tri-level health signal. Critical takes
// precedence over warning, warning over healthy.
func (m *WebhookMonitor) HealthStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recentFailuresLocked() >= recentFailuresCrit {
		return HealthCritical
	}
	rate := m.errorRateLocked()
	if m.total > minSamplesForRate && rate > errorRateCriticalPct {
		return HealthCritical
	}

	if m.total > minSamplesForRate && rate > errorRateWarnPct {
		return HealthWarning
	}
	if m.avgMs > avgProcessingWarnMs {
		return HealthWarning
	}
	if m.total > 0 && m.now().Sub(m.lastAt) > stalenessWindow {
		return HealthWarning
	}

	return HealthHealthy
}

// Reset clears the in-memory aggregate and ring buffer. Durable events are
// untouched.
func (m *WebhookMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.success, m.failure = 0, 0, 0
	m.avgMs = 0
	m.lastAt = time.Time{}
	m.ring = m.ring[:0]
}

// Cleanup deletes durable events older than retentionDays and returns the
// count removed. The scheduler and the admin trigger share this.
func (m *WebhookMonitor) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := m.now().AddDate(0, 0, -retentionDays)
	removed, err := m.store.DeleteWebhookEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Webhook retention cleanup",
		zap.Int("retention_days", retentionDays),
		zap.Int64("removed", removed))
	return removed, nil
}
