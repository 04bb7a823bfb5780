package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer and entry kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_cache_hits_total",
			Help: "Total number of resource cache hits",
		},
		[]string{"layer", "kind"}, // layer: "memo", "backend"; kind: "positive", "negative"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_misses_total",
			Help: "Total number of resource cache misses",
		},
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_cache_errors_total",
			Help: "Total number of resource cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "version", "purge"
	)

	// CacheClears tracks global version bumps
	CacheClears = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_clears_total",
			Help: "Total number of cache clears (version bumps)",
		},
	)
)
