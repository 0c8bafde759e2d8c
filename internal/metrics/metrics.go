package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the forecast service
type Metrics struct {
	ForecastsTotal  prometheus.Counter
	ResultCacheHits prometheus.Counter
	HistoryLoads    prometheus.Counter
	RunLogErrors    prometheus.Counter

	// Errors labeled by kind: unknown_series, insufficient_history,
	// regressor_failure, invalid_horizon
	ErrorsByKind *prometheus.CounterVec

	// Per-store labeled forecast counts
	ForecastsByStore *prometheus.CounterVec

	PredictLatency   prometheus.Histogram
	ForecastDuration prometheus.Histogram
}

// New creates and registers all metrics
func New() *Metrics {
	return &Metrics{
		ForecastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "m5_forecasts_total",
			Help: "Total number of forecast requests completed",
		}),
		ResultCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "m5_result_cache_hits",
			Help: "Number of forecast requests served from the result store",
		}),
		HistoryLoads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "m5_history_loads_total",
			Help: "Number of series histories materialized for forecast runs",
		}),
		RunLogErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "m5_runlog_errors",
			Help: "Number of run log write errors",
		}),

		ErrorsByKind: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m5_forecast_errors_by_kind",
				Help: "Number of failed forecast requests per error kind",
			},
			[]string{"kind"},
		),
		ForecastsByStore: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "m5_forecasts_by_store",
				Help: "Number of forecast requests completed per store",
			},
			[]string{"store_id"},
		),

		PredictLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "m5_predict_latency_seconds",
			Help:    "Latency of single regressor predictions",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		ForecastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "m5_forecast_duration_seconds",
			Help:    "End-to-end duration of recursive forecast runs",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
	}
}
