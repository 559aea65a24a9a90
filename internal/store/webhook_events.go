package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/models"
)

// InsertWebhookEvent appends one webhook attempt to the durable audit log.
// Rows are never updated afterwards.
func (s *Store) InsertWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (source, order_ref, response_code, duration_ms, success,
			error_text, metadata, source_ip, user_agent, webhook_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, e, query,
		e.Source, e.OrderRef, e.ResponseCode, e.DurationMs, e.Success,
		e.ErrorText, e.Metadata, e.SourceIP, e.UserAgent, e.WebhookID)
}

// WebhookEventFilter narrows ListWebhookEvents. Zero values mean no filter.
type WebhookEventFilter struct {
	OrderRef string
	Success  *bool
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// ListWebhookEvents returns a page of webhook events, newest first, plus the
// total row count for the filter.
func (s *Store) ListWebhookEvents(ctx context.Context, f WebhookEventFilter) ([]models.WebhookEvent, int64, error) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", placeholder(len(args)), 1))
	}

	if f.OrderRef != "" {
		add("order_ref = ?", f.OrderRef)
	}
	if f.Success != nil {
		add("success = ?", *f.Success)
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at <= ?", *f.To)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM webhook_events"+where, args...); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := "SELECT * FROM webhook_events" + where +
		" ORDER BY created_at DESC, id DESC LIMIT " + placeholder(len(args)-1) +
		" OFFSET " + placeholder(len(args))

	var events []models.WebhookEvent
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// DeleteWebhookEventsBefore removes events strictly older than the cutoff and
// returns how many were deleted.
func (s *Store) DeleteWebhookEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM webhook_events WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
