package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "pixrelay_build_info",
			Help:        "Build information for the pixrelay server",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	generationsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixrelay_generations_inflight",
			Help: "Number of generations currently being compiled, submitted or polled",
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixrelay_generations_total",
			Help: "Generations by outcome (succeeded or error kind)",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixrelay_generation_duration_seconds",
			Help:    "Wall time from request to outcome",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180, 240, 300},
		},
		[]string{"outcome"},
	)

	pollsPerJob = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixrelay_polls_per_job",
			Help:    "History polls issued before a job reached a terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"state"},
	)

	engineRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixrelay_engine_requests_total",
			Help: "Requests sent to the image engine by endpoint and response status",
		},
		[]string{"endpoint", "status"},
	)

	engineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixrelay_engine_request_duration_seconds",
			Help:    "Latency of image engine requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// Register registers all collectors with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, generationsInflight, generationsTotal, generationDuration, pollsPerJob, engineRequests, engineLatency)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// GenerationStart increments the in-flight generation gauge.
func GenerationStart() { generationsInflight.Inc() }

// GenerationEnd decrements the in-flight gauge and records the outcome.
func GenerationEnd(outcome string, d time.Duration) {
	generationsInflight.Dec()
	generationsTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePolls records how many polls a job needed to reach state.
func ObservePolls(state string, polls int) {
	pollsPerJob.WithLabelValues(state).Observe(float64(polls))
}

// ObserveEngineCall records one engine round-trip. status is the HTTP status
// code or "error" for transport failures.
func ObserveEngineCall(endpoint, status string, d time.Duration) {
	engineRequests.WithLabelValues(endpoint, status).Inc()
	engineLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}
