package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RefreshesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clustermap_refreshes_total",
		Help: "Total refresh requests accepted by the fetch coordinator",
	})
	CancellationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clustermap_fetch_cancellations_total",
		Help: "Total fetches cancelled or discarded as stale",
	})
	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermap_fetch_failures_total",
		Help: "Total failed fetches by reason",
	}, []string{"reason"})
	DeliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clustermap_deliveries_total",
		Help: "Total snapshots delivered to the main loop",
	})
	FetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustermap_fetch_duration_ms",
		Help:    "Query plus clustering duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	RecordsFetched = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "clustermap_records_fetched",
		Help:    "Records returned per fetch after the results limit",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})
	PatchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clustermap_patch_size",
		Help:    "Annotations added or removed per reconciliation",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"op"})
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clustermap_active_sessions",
		Help: "Map view sessions currently held by the session manager",
	})
	NotifyEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clustermap_notify_events_total",
		Help: "Record change events consumed by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(RefreshesTotal)
	prometheus.MustRegister(CancellationsTotal)
	prometheus.MustRegister(FailuresTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(FetchDurationMs)
	prometheus.MustRegister(RecordsFetched)
	prometheus.MustRegister(PatchSize)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(NotifyEventsTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
