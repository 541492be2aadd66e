package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "provider_requests_total",
			Help:      "Total provider requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookfetcher",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	pagesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "pages_captured_total",
			Help:      "Total preview pages captured by result (success, failed)",
		},
		[]string{"result"},
	)

	ocrDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "bookfetcher",
			Name:      "ocr_duration_seconds",
			Help:      "Duration of per-page OCR runs",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ocrFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "ocr_failures_total",
			Help:      "Total OCR runs that produced no text due to an engine error",
		},
	)

	classifierCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "classifier_calls_total",
			Help:      "Classifier invocations by verdict kind",
		},
		[]string{"kind"},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "sessions_total",
			Help:      "Extraction sessions by result (success, failed)",
		},
		[]string{"result"},
	)

	earlyStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookfetcher",
			Name:      "early_stops_total",
			Help:      "Sessions cut short by the early-stop rule",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(providerReqs, providerLatency, pagesCaptured, ocrDuration, ocrFailures, classifierCalls, sessionsTotal, earlyStops)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, model, result).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncPageCaptured(result string) { pagesCaptured.WithLabelValues(result).Inc() }

func ObserveOCR(dur time.Duration) { ocrDuration.Observe(dur.Seconds()) }
func IncOCRFailure()               { ocrFailures.Inc() }

func IncClassifierCall(kind string) { classifierCalls.WithLabelValues(kind).Inc() }

func IncSession(result string) { sessionsTotal.WithLabelValues(result).Inc() }
func IncEarlyStop()            { earlyStops.Inc() }
