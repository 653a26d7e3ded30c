// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchtale_http_requests_total",
			Help: "Total number of HTTP requests by method, route pattern and status code.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branchtale_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	generationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchtale_generation_total",
			Help: "Total number of generation jobs by type and terminal status.",
		},
		[]string{"job_type", "status"},
	)
	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "branchtale_generation_duration_seconds",
			Help:    "Histogram of end-to-end generation durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"job_type"},
	)
	llmFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchtale_llm_fallback_total",
			Help: "Number of times a model failed and the next candidate was tried.",
		},
		[]string{"model", "reason"},
	)
	ttsCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchtale_tts_cache_total",
			Help: "Audio cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)
)

// ObserveHTTPRequest records one served request
func ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveGeneration records a finished generation job
func ObserveGeneration(jobType, status string, elapsed time.Duration) {
	generationTotal.WithLabelValues(jobType, status).Inc()
	generationDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// IncLLMFallback counts a model that failed over to the next candidate
func IncLLMFallback(model, reason string) {
	llmFallbackTotal.WithLabelValues(model, reason).Inc()
}

// IncTTSCache counts an audio cache lookup
func IncTTSCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	ttsCacheTotal.WithLabelValues(result).Inc()
}
