package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_runs_processed_total",
			Help: "Total number of processed analysis runs by final status.",
		},
		[]string{"status"},
	)

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "analysis_run_duration_seconds",
		Help:    "Wall-clock duration of a full analysis run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	scenesAnalyzedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_scenes_analyzed_total",
		Help: "Total number of scenes scored and budgeted.",
	})
)
