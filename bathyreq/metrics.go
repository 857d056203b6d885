package bathyreq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for download activity.
type Metrics struct {
	Requests        *prometheus.CounterVec // labels: source, outcome={success,error}
	CacheLookups    *prometheus.CounterVec // labels: result={hit,miss}
	BytesDownloaded prometheus.Counter
	RequestDuration *prometheus.HistogramVec // labels: source
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bathyreq",
			Name:      "requests_total",
			Help:      "Raster requests by source and outcome.",
		}, []string{"source", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bathyreq",
			Name:      "cache_lookups_total",
			Help:      "Raster cache lookups by result.",
		}, []string{"result"}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bathyreq",
			Name:      "bytes_downloaded_total",
			Help:      "Total raster bytes received.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bathyreq",
			Name:      "request_duration_seconds",
			Help:      "Raster download duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
	}

	reg.MustRegister(m.Requests, m.CacheLookups, m.BytesDownloaded, m.RequestDuration)
	return m
}

// NewMetricsForTesting creates collectors on a private registry.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
