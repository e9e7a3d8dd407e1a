package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors exported by the API.
type Metrics struct {
	Requests         *prometheus.CounterVec // by route, method and status
	RequestDuration  *prometheus.HistogramVec
	Predictions      *prometheus.CounterVec // by predicted label
	PredictionErrors *prometheus.CounterVec // by reason
	Probabilities    prometheus.Histogram
}

// NewMetrics registers the collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_http_requests_total",
			Help: "HTTP requests by route, method and status code",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "churn_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Predictions served by predicted label",
		}, []string{"label"}),
		PredictionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_prediction_errors_total",
			Help: "Rejected prediction requests by reason",
		}, []string{"reason"}),
		Probabilities: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_probability",
			Help:    "Distribution of predicted churn probabilities",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 9),
		}),
	}
}
