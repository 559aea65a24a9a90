package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/store"

	"github.com/gin-gonic/gin"
)

// webhookMetrics returns the rolling in-memory webhook aggregate.
func (h *Handler) webhookMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// webhookHealth returns the tri-level health signal with the metrics that
// produced it.
func (h *Handler) webhookHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  h.monitor.HealthStatus(),
		"metrics": h.monitor.Snapshot(),
	})
}

// webhookEvents returns a page of durable webhook events, newest first.
func (h *Handler) webhookEvents(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	events, total, err := h.events.ListWebhookEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// webhookExport streams the filtered events as CSV or JSON.
func (h *Handler) webhookExport(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 500
	}

	events, _, err := h.events.ListWebhookEvents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to export events", "details": err.Error()})
		return
	}

	if c.DefaultQuery("format", "json") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", "attachment; filename=webhook_events.csv")

		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"id", "source", "order_ref", "response_code", "duration_ms", "success", "error_text", "source_ip", "created_at"})
		for _, e := range events {
			_ = w.Write([]string{
				strconv.FormatInt(e.ID, 10),
				e.Source,
				e.OrderRef,
				e.ResponseCode,
				strconv.FormatInt(e.DurationMs, 10),
				strconv.FormatBool(e.Success),
				e.ErrorText,
				e.SourceIP,
				e.CreatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// webhookCleanup deletes durable events older than the retention window.
func (h *Handler) webhookCleanup(c *gin.Context) {
	days := h.retentionDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	removed, err := h.monitor.Cleanup(c.Request.Context(), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "retention_days": days})
}

// webhookReset clears the in-memory aggregate; durable events are untouched.
func (h *Handler) webhookReset(c *gin.Context) {
	h.monitor.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func eventFilterFromQuery(c *gin.Context) (store.WebhookEventFilter, error) {
	var f store.WebhookEventFilter

	f.OrderRef = c.Query("order_ref")

	if raw := c.Query("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("success must be a boolean")
		}
		f.Success = &v
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("from must be RFC3339")
		}
		f.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("to must be RFC3339")
		}
		f.To = &t
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = v
	}
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = v
	}
	return f, nil
}
