package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_cache_hits_total",
		Help: "Cache lookups answered without an outbound fetch",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_cache_misses_total",
		Help: "Cache lookups that triggered or joined an outbound fetch",
	})

	StaleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_stale_served_total",
		Help: "Responses served from an expired cache entry after a failed refresh",
	})

	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_feed_requests_total",
		Help: "Outbound requests per feed",
	}, []string{"feed"})

	FeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_feed_errors_total",
		Help: "Outbound request failures per feed and error kind",
	}, []string{"feed", "kind"})

	FeedLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pricing_feed_latency_seconds",
		Help:    "Latency of outbound feed requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricing_active_subscriptions",
		Help: "Polling subscriptions currently running",
	})
)
