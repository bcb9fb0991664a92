package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_hits_total",
			Help: "Total number of image cache hits",
		},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_cache_misses_total",
			Help: "Total number of image cache misses",
		},
	)

	// CacheEvictions tracks policy evictions by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_cache_evictions_total",
			Help: "Total number of image cache evictions",
		},
		[]string{"reason"}, // "capacity", "cost"
	)

	// CacheItems tracks the number of cached images per cache
	CacheItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gallery_cache_items",
			Help: "Current number of cached images",
		},
		[]string{"cache"},
	)

	// CacheCost tracks the summed cost of cached images in bytes per cache
	CacheCost = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gallery_cache_cost_bytes",
			Help: "Current estimated memory footprint of cached images in bytes",
		},
		[]string{"cache"},
	)
)
