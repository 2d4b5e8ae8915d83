// Package observability exposes Prometheus metrics for the fetch and
// validation pipeline, served on /metrics by the HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts every page request sent, retries included.
	FetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gachavault_fetch_attempts_total",
		Help: "Gacha API page requests sent, including retries.",
	})

	// FetchRetries counts retries after a rate-limit rejection.
	FetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gachavault_fetch_retries_total",
		Help: "Page requests retried after a rate-limit rejection.",
	})

	// RateLimitHits counts rate-limit rejections from the remote API.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gachavault_rate_limit_hits_total",
		Help: "Rate-limit rejections returned by the gacha API.",
	})

	// RecordsFetched counts records received across all pages.
	RecordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gachavault_records_fetched_total",
		Help: "Gacha records received from the remote API.",
	})

	// PagesFetched counts completed page fetches per gacha type.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gachavault_pages_fetched_total",
		Help: "Pages fetched, labelled by gacha type.",
	}, []string{"gacha_type"})

	// Probes counts validation probe outcomes.
	Probes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gachavault_probes_total",
		Help: "Validation probes, labelled by outcome.",
	}, []string{"result"})

	// URLCacheLookups counts validation cache hits and misses.
	URLCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gachavault_urlcache_lookups_total",
		Help: "Validation url cache lookups, labelled by outcome.",
	}, []string{"result"})

	// PullDuration observes the wall time of full pull operations.
	PullDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gachavault_pull_duration_seconds",
		Help:    "Wall time of full history pulls.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
