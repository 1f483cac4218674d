package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of cart lines created",
	})

	ReservationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_rejected_total",
		Help: "Total number of rejected cart line operations",
	}, []string{"operation", "reason"})

	ReservationAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_adjustments_total",
		Help: "Total number of successful quantity adjustments",
	}, []string{"direction"})

	ReservationsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_removed_total",
		Help: "Total number of cart lines removed by users",
	})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkouts by outcome",
	}, []string{"result"})

	CheckoutItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_items_total",
		Help: "Total number of checkout lines by status",
	}, []string{"status"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout including propagation",
		Buckets: prometheus.DefBuckets,
	})

	StockDecrementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Total number of stock ledger decrements",
	}, []string{"result"})

	PropagationUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propagation_updates_total",
		Help: "Total number of reservations rewritten by the propagation pass",
	}, []string{"action"})

	PropagationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "propagation_latency_seconds",
		Help:    "Latency of one propagation pass",
		Buckets: prometheus.DefBuckets,
	})

	PropagationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "propagation_failures_total",
		Help: "Total number of propagation passes that did not finish",
	})

	StoreTxConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_tx_conflicts_total",
		Help: "Total number of store transactions retried after a conflict",
	}, []string{"backend"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Total number of domain events that could not be published",
	}, []string{"event_type"})

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
