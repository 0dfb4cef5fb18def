package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PredictionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credishield_prediction_duration_seconds",
			Help:    "End-to-end score-and-log duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credishield_predictions_total",
			Help: "Total scoring requests processed",
		},
		[]string{"status"},
	)

	PredictionScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "credishield_prediction_pd_score",
			Help:    "Distribution of returned probability-of-default scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	HighRiskPredictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credishield_high_risk_predictions_total",
			Help: "Predictions at or above the 0.5 high-risk threshold",
		},
	)

	LoggingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credishield_prediction_logging_failures_total",
			Help: "Scored responses whose history write failed",
		},
	)

	AnalyticsRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credishield_analytics_requests_total",
			Help: "Total trend analytics queries",
		},
		[]string{"status"},
	)

	ScoreCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credishield_score_cache_hits_total",
			Help: "Scorer calls avoided via the score cache",
		},
	)

	ScoreCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credishield_score_cache_misses_total",
			Help: "Score cache lookups that fell through to the scorer",
		},
	)
)

func Init() {
	prometheus.MustRegister(PredictionDuration)
	prometheus.MustRegister(PredictionsTotal)
	prometheus.MustRegister(PredictionScore)
	prometheus.MustRegister(HighRiskPredictions)
	prometheus.MustRegister(LoggingFailures)
	prometheus.MustRegister(AnalyticsRequests)
	prometheus.MustRegister(ScoreCacheHits)
	prometheus.MustRegister(ScoreCacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
