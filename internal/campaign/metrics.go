package campaign

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pidtune_campaign_runs_total",
		Help: "Tuning runs by method and outcome",
	}, []string{"method", "status"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pidtune_campaign_runs_in_flight",
		Help: "Tuning runs currently executing",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pidtune_campaign_run_duration_seconds",
		Help:    "Wall-clock time of one tuning run",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"method"})
)
