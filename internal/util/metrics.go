package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkout passes by final session status",
	}, []string{"status"})

	CheckoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Latency of one checkout pass",
		Buckets: prometheus.DefBuckets,
	})

	ServiceAreaRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_service_area_rejections_total",
		Help: "Total number of checkouts rejected for a service-area violation",
	})

	VendorOrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_orders_created_total",
		Help: "Total number of vendor orders created",
	}, []string{"payment_method"})

	VendorOrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendor_orders_failed_total",
		Help: "Total number of vendor partitions that did not produce an order",
	}, []string{"reason"})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of gateway payment attempts",
	}, []string{"gateway"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of verified gateway payments",
	}, []string{"gateway"})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed or cancelled gateway payments",
	}, []string{"gateway", "reason"})

	PaymentRedirectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_redirects_total",
		Help: "Total number of checkout passes suspended for a payment redirect",
	})

	PaymentProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"actor", "to"})

	StatusTransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_rejected_total",
		Help: "Total number of rejected order status transitions",
	}, []string{"actor", "reason"})

	TrackingFixesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_fixes_total",
		Help: "Total number of GPS fixes received by outcome",
	}, []string{"source", "outcome"})

	CODCollectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cod_collections_total",
		Help: "Total number of COD collections recorded",
	})

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
