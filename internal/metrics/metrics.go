// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes recorded by ObserveOperation.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

var (
	stageOperationsTotal      *prometheus.CounterVec
	stageOperationDuration    *prometheus.HistogramVec
	stageReleasedItemsTotal   *prometheus.CounterVec
	stageReleasesTotal        *prometheus.CounterVec
	stagePendingItems         *prometheus.GaugeVec
	stageInFlightOperations   *prometheus.GaugeVec
	imagesSubmittedTotal      *prometheus.CounterVec
	exportedNotesTotal        *prometheus.CounterVec
	aiRateLimitDelaysSeconds  prometheus.Histogram
	aiRetriesTotal            prometheus.Counter
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; observers are no-ops until Init runs.
func Init() {
	once.Do(func() {
		stageOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_stage_operations_total",
			Help: "Domain operations completed per stage, labeled by outcome.",
		}, []string{"stage", "outcome"})
		stageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notepipe_stage_operation_duration_seconds",
			Help:    "Wall time of domain operations per stage.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"})
		stageReleasedItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_stage_released_items_total",
			Help: "Items forwarded to the next stage after confirmation.",
		}, []string{"stage"})
		stageReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_stage_confirmations_total",
			Help: "Confirmations handled per stage, labeled by whether anything was released.",
		}, []string{"stage", "result"})
		stagePendingItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notepipe_stage_pending_items",
			Help: "Items accumulated and awaiting confirmation per stage.",
		}, []string{"stage"})
		stageInFlightOperations = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "notepipe_stage_inflight_operations",
			Help: "Domain operations currently outstanding per stage.",
		}, []string{"stage"})
		imagesSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_images_submitted_total",
			Help: "Images accepted into the pipeline, labeled by source.",
		}, []string{"source"})
		exportedNotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notepipe_exported_notes_total",
			Help: "Protonotes handed to the export target, labeled by target and result.",
		}, []string{"target", "result"})
		aiRateLimitDelaysSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "notepipe_ai_rate_limit_delay_seconds",
			Help:    "Time spent waiting for the AI request limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		})
		aiRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "notepipe_ai_retries_total",
			Help: "AI requests sent again after a transient failure.",
		})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSecond = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterQueueDepth exposes fn as a gauge for the named queue on reg.
func RegisterQueueDepth(reg prometheus.Registerer, queue string, fn func() int) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "notepipe_queue_depth",
		Help:        "Items waiting in a pipeline queue.",
		ConstLabels: prometheus.Labels{"queue": queue},
	}, func() float64 { return float64(fn()) })
	if err := reg.Register(gauge); err != nil {
		return err
	}
	return nil
}

// ObserveOperation records one finished domain operation.
func ObserveOperation(stage, outcome string, elapsed time.Duration) {
	if stageOperationsTotal == nil {
		return
	}
	stageOperationsTotal.WithLabelValues(stage, outcome).Inc()
	stageOperationDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveRelease records one handled confirmation and the released item count.
func ObserveRelease(stage string, items int) {
	if stageReleasesTotal == nil {
		return
	}
	if items == 0 {
		stageReleasesTotal.WithLabelValues(stage, "empty").Inc()
		return
	}
	stageReleasesTotal.WithLabelValues(stage, "released").Inc()
	stageReleasedItemsTotal.WithLabelValues(stage).Add(float64(items))
}

// SetPending publishes the accumulator size of a stage.
func SetPending(stage string, n int) {
	if stagePendingItems == nil {
		return
	}
	stagePendingItems.WithLabelValues(stage).Set(float64(n))
}

// AddInFlight adjusts the outstanding operation gauge of a stage.
func AddInFlight(stage string, delta int) {
	if stageInFlightOperations == nil {
		return
	}
	stageInFlightOperations.WithLabelValues(stage).Add(float64(delta))
}

// ObserveImage records an image accepted from source.
func ObserveImage(source string) {
	if imagesSubmittedTotal == nil {
		return
	}
	imagesSubmittedTotal.WithLabelValues(source).Inc()
}

// ObserveExport records exported protonotes for a target.
func ObserveExport(target string, ok bool, n int) {
	if exportedNotesTotal == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	exportedNotesTotal.WithLabelValues(target, result).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of an AI limiter wait.
func ObserveRateLimitDelay(d time.Duration) {
	if aiRateLimitDelaysSeconds == nil {
		return
	}
	aiRateLimitDelaysSeconds.Observe(d.Seconds())
}

// ObserveAIRetry counts one retried AI request.
func ObserveAIRetry() {
	if aiRetriesTotal == nil {
		return
	}
	aiRetriesTotal.Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(d.Seconds())
}
