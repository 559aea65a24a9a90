package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Accepted order status transitions",
	}, []string{"from", "to"})

	OrderTransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Rejected order status transitions",
	})

	PaymentsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payments created, by method",
	}, []string{"method"})

	PaymentsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_settled_total",
		Help: "Payments settled via gateway callback, by outcome",
	}, []string{"outcome"})

	PaymentsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_retried_total",
		Help: "Payment retry attempts",
	})

	ShipmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipments_created_total",
		Help: "Shipments accepted by the carrier",
	})

	ShipmentsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shipments_failed_total",
		Help: "Carrier shipment creation failures",
	})

	ShipmentCreateLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipment_create_latency_seconds",
		Help:    "Latency of carrier shipment creation",
		Buckets: prometheus.DefBuckets,
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Inbound webhooks, by source and outcome",
	}, []string{"source", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	WebhookAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_alerts_total",
		Help: "Webhook monitoring alerts, by type and severity",
	}, []string{"type", "severity"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
