package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Load result labels.
const (
	resultHit     = "hit"
	resultFetched = "fetched"
	resultFailed  = "failed"
	resultShared  = "shared"
)

var (
	imageLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_image_loads_total",
		Help: "Image loads by result (hit, fetched, failed, shared)",
	}, []string{"result"})

	imageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_image_fetch_duration_seconds",
		Help:    "Image fetch duration including the GET, excluding decode",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
