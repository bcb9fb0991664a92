package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page fetch result labels.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
	resultStale   = "stale"
	resultDropped = "dropped"
)

var (
	pageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_page_fetches_total",
		Help: "Collection page fetches by result (success, failed, stale, dropped)",
	}, []string{"result"})

	recordsFilteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_records_filtered_total",
		Help: "Records dropped because they carry no image identifier",
	})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_page_fetch_duration_seconds",
		Help:    "Collection page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
