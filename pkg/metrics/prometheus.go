package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvoiceNumbersAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_invoice_numbers_allocated_total",
			Help: "Total number of invoice numbers handed out by prefix",
		},
		[]string{"prefix"},
	)

	AllocationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_invoice_allocation_retries_total",
			Help: "Total number of retried invoice number allocations",
		},
		[]string{"prefix"},
	)

	AllocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_invoice_allocation_failures_total",
			Help: "Total number of invoice number allocations that gave up",
		},
		[]string{"prefix"},
	)

	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billforge_invoice_allocation_duration_seconds",
			Help:    "Invoice number allocation latency in seconds, retries included",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"prefix"},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_quota_rejections_total",
			Help: "Total number of creations rejected by plan quota",
		},
		[]string{"resource"},
	)

	ReferentialConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_referential_conflicts_total",
			Help: "Total number of deletes blocked by a RESTRICT rule",
		},
		[]string{"parent", "child"},
	)

	RecordsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_records_deleted_total",
			Help: "Total number of rows removed by kind and mode, cascades included",
		},
		[]string{"kind", "mode"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_http_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billforge_http_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billforge_outbox_events_total",
			Help: "Total number of outbox events processed by result",
		},
		[]string{"event_type", "result"},
	)
)
