package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ViewComputeTotal counts view computations per data source.
	ViewComputeTotal *prometheus.CounterVec
	// ViewComputeLatency records view computation latency in milliseconds.
	ViewComputeLatency *prometheus.HistogramVec
	// UpstreamRequestsTotal counts admin API calls by operation and outcome.
	UpstreamRequestsTotal *prometheus.CounterVec
	// RecordStoreLoadsTotal counts record store loads by source and origin (upstream, redis, memory).
	RecordStoreLoadsTotal *prometheus.CounterVec
	// RecordStoreStaleCommits counts fetches discarded because a newer fetch already committed.
	RecordStoreStaleCommits *prometheus.CounterVec
	// BulkPriceUpdatesTotal counts bulk price operations by mode and result.
	BulkPriceUpdatesTotal *prometheus.CounterVec
	// BulkPricePackagesTotal counts individual package price writes by result.
	BulkPricePackagesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ViewComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_compute_total",
			Help:      "Count of in-memory view computations.",
		}, []string{"source"})
		ViewComputeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "view_compute_duration_ms",
			Help:      "Latency of filter, sort and page computations in milliseconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}, []string{"source"})
		UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Count of admin API requests by operation and result.",
		}, []string{"operation", "result"})
		RecordStoreLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_store_loads_total",
			Help:      "Count of record store loads by source and origin.",
		}, []string{"source", "origin"})
		RecordStoreStaleCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_store_stale_commits_total",
			Help:      "Fetch results dropped because a newer fetch already committed.",
		}, []string{"source"})
		BulkPriceUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_price_updates_total",
			Help:      "Count of bulk price operations by mode and result.",
		}, []string{"mode", "result"})
		BulkPricePackagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_price_packages_total",
			Help:      "Count of package price writes by result.",
		}, []string{"result"})

		for _, c := range []**prometheus.CounterVec{
			&ViewComputeTotal,
			&UpstreamRequestsTotal,
			&RecordStoreLoadsTotal,
			&RecordStoreStaleCommits,
			&BulkPriceUpdatesTotal,
			&BulkPricePackagesTotal,
		} {
			target := c
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, ViewComputeLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				ViewComputeLatency = v
			}
		})
	})
}

// CountUpstream records an admin API call when domain metrics are registered.
func CountUpstream(operation string, err error) {
	if UpstreamRequestsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(operation, result).Inc()
}

// CountRecordLoad records where a record store snapshot came from.
func CountRecordLoad(source, origin string) {
	if RecordStoreLoadsTotal == nil {
		return
	}
	RecordStoreLoadsTotal.WithLabelValues(source, origin).Inc()
}

// CountStaleCommit records a discarded out-of-order fetch.
func CountStaleCommit(source string) {
	if RecordStoreStaleCommits == nil {
		return
	}
	RecordStoreStaleCommits.WithLabelValues(source).Inc()
}

// ObserveView records a view computation.
func ObserveView(source string, millis float64) {
	if ViewComputeTotal == nil || ViewComputeLatency == nil {
		return
	}
	ViewComputeTotal.WithLabelValues(source).Inc()
	ViewComputeLatency.WithLabelValues(source).Observe(millis)
}

// CountBulkPrice records a bulk price operation and its per-package writes.
func CountBulkPrice(mode, result string, written, failed int) {
	if BulkPriceUpdatesTotal == nil || BulkPricePackagesTotal == nil {
		return
	}
	BulkPriceUpdatesTotal.WithLabelValues(mode, result).Inc()
	if written > 0 {
		BulkPricePackagesTotal.WithLabelValues("ok").Add(float64(written))
	}
	if failed > 0 {
		BulkPricePackagesTotal.WithLabelValues("error").Add(float64(failed))
	}
}
