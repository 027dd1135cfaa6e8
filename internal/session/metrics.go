package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_builds_total",
			Help: "Total number of full bundle builds",
		},
		[]string{"status"},
	)
	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_build_duration_seconds",
			Help:    "Bundle build latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	transpilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_transpiles_total",
			Help: "Total number of single-file transpiles",
		},
		[]string{"status"},
	)
)
