package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "esim_admin",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Ready tasks per kind, sampled by the stats endpoint.",
	}, []string{"kind"})
	deadGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "esim_admin",
		Subsystem: "queue",
		Name:      "dlq_size",
		Help:      "Dead letters per kind, sampled by the stats endpoint.",
	}, []string{"kind"})
	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esim_admin",
		Subsystem: "queue",
		Name:      "processed_total",
		Help:      "Task deliveries by outcome: ok, retry or dead.",
	}, []string{"kind", "outcome"})
	runSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "esim_admin",
		Subsystem: "queue",
		Name:      "handler_seconds",
		Help:      "Handler run time per delivery.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind"})
)

func observeRun(kind, outcome string, started time.Time) {
	outcomes.WithLabelValues(kind, outcome).Inc()
	runSeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
