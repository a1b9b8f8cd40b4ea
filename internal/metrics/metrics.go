// Package metrics exposes Prometheus collectors for the engine, storage,
// messaging and HTTP layers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dogepal/internal/core"
)

var (
	engineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_engine_runs_total",
		Help: "Recommendation engine runs by outcome",
	}, []string{"outcome"})

	engineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dogepal_engine_duration_seconds",
		Help:    "Time to evaluate a transaction snapshot",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	engineTransactions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dogepal_engine_snapshot_size",
		Help:    "Transactions per evaluated snapshot",
		Buckets: []float64{10, 100, 1000, 10000, 100000},
	})

	recommendationsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_recommendations_generated_total",
		Help: "Recommendations emitted by the engine by kind",
	}, []string{"kind"})

	recordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogepal_engine_skipped_records_total",
		Help: "Malformed transactions skipped during evaluation",
	})

	recommendationsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogepal_recommendations_stored_total",
		Help: "Recommendations persisted after deduplication",
	})

	recommendationsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogepal_recommendations_deduplicated_total",
		Help: "Recommendations dropped because an equal one was stored recently",
	})

	messagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_amqp_messages_published_total",
		Help: "Generate requests published by outcome",
	}, []string{"outcome"})

	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_amqp_messages_consumed_total",
		Help: "Generate requests consumed by outcome",
	}, []string{"outcome"})

	circuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dogepal_amqp_circuit_state",
		Help: "Publisher circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dogepal_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dogepal_cache_lookups_total",
		Help: "Response cache lookups by result",
	}, []string{"result"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogepal_http_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvaluation records one successful engine run.
func ObserveEvaluation(snapshot int, recs []core.Recommendation, skipped int, elapsed time.Duration) {
	engineRuns.WithLabelValues("success").Inc()
	engineDuration.Observe(elapsed.Seconds())
	engineTransactions.Observe(float64(snapshot))
	for _, r := range recs {
		recommendationsGenerated.WithLabelValues(string(r.Kind)).Inc()
	}
	recordsSkipped.Add(float64(skipped))
}

// ObserveEvaluationError records an engine run that failed before completing.
func ObserveEvaluationError() {
	engineRuns.WithLabelValues("error").Inc()
}

// ObserveSave records the outcome of a deduplicating save.
func ObserveSave(stored, duplicates int) {
	recommendationsStored.Add(float64(stored))
	recommendationsDeduplicated.Add(float64(duplicates))
}

func ObservePublish(err error) {
	messagesPublished.WithLabelValues(outcome(err)).Inc()
}

func ObserveConsume(outcome string) {
	messagesConsumed.WithLabelValues(outcome).Inc()
}

// SetCircuitState publishes the breaker state as a gauge value.
func SetCircuitState(state int) {
	circuitState.Set(float64(state))
}

func ObserveHTTP(method string, code int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func CacheHit()  { cacheLookups.WithLabelValues("hit").Inc() }
func CacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

func RateLimited() { rateLimited.Inc() }

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
