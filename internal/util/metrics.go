package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Supplier call outcomes
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomePanic       = "panic"
	OutcomeSkipped     = "not_configured"
	OutcomeCanceled    = "canceled"
	OutcomeRateLimited = "rate_limited"
)

var (
	SupplierRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_requests_total",
		Help: "Total number of supplier search calls by outcome",
	}, []string{"source", "outcome"})

	SupplierLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supplier_request_latency_seconds",
		Help:    "Latency of supplier search calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	SupplierOffersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supplier_offers_dropped_total",
		Help: "Offers rejected by a supplier acceptance filter",
	}, []string{"source"})

	FanoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fanout_latency_seconds",
		Help:    "Wall-clock latency of one fan-out across all suppliers",
		Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 10},
	})

	OffersReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_received_total",
		Help: "Offers received from suppliers before reconciliation",
	})

	OffersReturnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offers_returned_total",
		Help: "Offers returned to callers after reconciliation",
	})

	PricingFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_default_policy_total",
		Help: "Prices computed with the default policy",
	}, []string{"reason"})

	SearchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_cache_total",
		Help: "Search cache lookups by result",
	}, []string{"result"})

	RuleCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_rule_cache_total",
		Help: "Price rule snapshot lookups by result",
	}, []string{"result"})

	FacadeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_errors_total",
		Help: "Errors surfaced by the catalog facade",
	}, []string{"operation", "status"})

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
