package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker and retry metrics, labelled by breaker target.
var (
	StateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "esim_admin",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Breaker state: 0 closed, 1 open, 2 half open.",
	}, []string{"target"})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esim_admin",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Breaker state changes.",
	}, []string{"target", "from", "to"})
	Trips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esim_admin",
		Subsystem: "breaker",
		Name:      "trips_total",
		Help:      "Times the breaker opened.",
	}, []string{"target"})
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esim_admin",
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Outbound HTTP retries.",
	}, []string{"target"})
)
