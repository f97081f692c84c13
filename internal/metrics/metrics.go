// Package metrics exposes the collector's metrics through two sinks: a
// statsd client for emission and Prometheus collectors for scraping.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	incomingCrashTotal   prometheus.Counter
	gzippedCrashTotal    prometheus.Counter
	badGzippedCrashTotal prometheus.Counter
	crashSizeBytes       *prometheus.HistogramVec
	throttleResultTotal  *prometheus.CounterVec
	throttleBadValues    prometheus.Counter
	queueSizeGauge       prometheus.Gauge
	savedCrashTotal      prometheus.Counter
	saveRetryTotal       prometheus.Counter
	publishRetryTotal    prometheus.Counter
	saveDroppedTotal     prometheus.Counter
	publishDroppedTotal  prometheus.Counter
	saveSeconds          prometheus.Histogram
	publishSeconds       prometheus.Histogram
	handlingSeconds      prometheus.Histogram
	healthRequestsTotal  *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		incomingCrashTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_incoming_crash_total",
			Help: "Total number of crash submissions that parsed successfully.",
		})
		gzippedCrashTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_gzipped_crash_total",
			Help: "Total number of gzip-compressed crash submissions.",
		})
		badGzippedCrashTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_bad_gzipped_crash_total",
			Help: "Total number of submissions claiming gzip with an invalid stream.",
		})
		crashSizeBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_crash_size_bytes",
			Help:    "Histogram of crash payload sizes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"encoding"})
		throttleResultTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_throttle_result_total",
			Help: "Throttler verdicts, labeled by verdict and matching rule.",
		}, []string{"verdict", "rule"})
		throttleBadValues = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_throttle_bad_values_total",
			Help: "Resubmitted throttle annotations that failed to parse.",
		})
		queueSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "collector_queue_size",
			Help: "Crash reports waiting in the hand-off queue.",
		})
		savedCrashTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_save_crash_total",
			Help: "Crash reports saved to storage, whether or not a following publish succeeded.",
		})
		saveRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_save_retry_total",
			Help: "Storage save attempts that were retried.",
		})
		publishRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_publish_retry_total",
			Help: "Publish attempts that were retried.",
		})
		saveDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_save_crash_dropped_total",
			Help: "Crash reports dropped after exhausting save retries.",
		})
		publishDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "collector_publish_crash_dropped_total",
			Help: "Crash ids whose publish was dropped after exhausting retries.",
		})
		saveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_crash_save_seconds",
			Help:    "Time spent saving a crash to storage.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})
		publishSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_crash_publish_seconds",
			Help:    "Time spent publishing a crash id.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		})
		handlingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_crash_handling_seconds",
			Help:    "Time from submission receipt to terminal crash-mover state.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		})
		healthRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_health_requests_total",
			Help: "Hits on the health endpoints, labeled by endpoint.",
		}, []string{"endpoint"})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Config selects the statsd endpoint.
type Config struct {
	Host      string
	Port      int
	Namespace string
}

// Metrics emits collector metrics to statsd and mirrors them into the
// Prometheus collectors. Safe for concurrent use.
type Metrics struct {
	statter statsd.Statter
}

// New builds a Metrics facade with a UDP statsd client.
func New(cfg Config) (*Metrics, error) {
	Init()
	statter, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Prefix:  cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("build statsd client: %w", err)
	}
	return &Metrics{statter: statter}, nil
}

// NewNop builds a Metrics facade that only feeds the Prometheus collectors.
func NewNop() *Metrics {
	Init()
	var statter statsd.Statter = (*statsd.Client)(nil)
	return &Metrics{statter: statter}
}

// Close flushes and closes the statsd client.
func (m *Metrics) Close() error {
	return m.statter.Close()
}

// IncrIncomingCrash counts a successfully parsed submission.
func (m *Metrics) IncrIncomingCrash() {
	m.statter.Inc("incoming_crash", 1, 1.0) //nolint:errcheck // statsd is fire-and-forget
	incomingCrashTotal.Inc()
}

// IncrGzippedCrash counts a gzip-compressed submission.
func (m *Metrics) IncrGzippedCrash() {
	m.statter.Inc("gzipped_crash", 1, 1.0) //nolint:errcheck
	gzippedCrashTotal.Inc()
}

// IncrBadGzippedCrash counts an invalid gzip submission.
func (m *Metrics) IncrBadGzippedCrash() {
	m.statter.Inc("bad_gzipped_crash", 1, 1.0) //nolint:errcheck
	badGzippedCrashTotal.Inc()
}

// ObserveCrashSize records the payload size.
func (m *Metrics) ObserveCrashSize(compressed bool, size int64) {
	encoding := "uncompressed"
	if compressed {
		encoding = "compressed"
	}
	m.statter.Gauge("crash_size."+encoding, size, 1.0) //nolint:errcheck
	crashSizeBytes.WithLabelValues(encoding).Observe(float64(size))
}

// IncrThrottleResult counts a throttler decision.
func (m *Metrics) IncrThrottleResult(verdict, rule string) {
	m.statter.Inc("throttle."+verdict, 1, 1.0) //nolint:errcheck
	throttleResultTotal.WithLabelValues(verdict, rule).Inc()
}

// IncrThrottleBadValues counts unusable resubmitted throttle annotations.
func (m *Metrics) IncrThrottleBadValues() {
	m.statter.Inc("throttle.bad_throttle_values", 1, 1.0) //nolint:errcheck
	throttleBadValues.Inc()
}

// SetQueueSize reports the hand-off queue depth.
func (m *Metrics) SetQueueSize(n int) {
	m.statter.Gauge("work_queue_size", int64(n), 1.0) //nolint:errcheck
	queueSizeGauge.Set(float64(n))
}

// IncrSaveCrash counts a crash that was saved; a publish dropped afterwards
// does not undo the count.
func (m *Metrics) IncrSaveCrash() {
	m.statter.Inc("save_crash", 1, 1.0) //nolint:errcheck
	savedCrashTotal.Inc()
}

// IncrSaveRetry counts a retried save attempt.
func (m *Metrics) IncrSaveRetry() {
	m.statter.Inc("save_crash_retry", 1, 1.0) //nolint:errcheck
	saveRetryTotal.Inc()
}

// IncrPublishRetry counts a retried publish attempt.
func (m *Metrics) IncrPublishRetry() {
	m.statter.Inc("publish_crash_retry", 1, 1.0) //nolint:errcheck
	publishRetryTotal.Inc()
}

// IncrSaveCrashDropped counts a crash dropped after save retries.
func (m *Metrics) IncrSaveCrashDropped() {
	m.statter.Inc("save_crash_dropped", 1, 1.0) //nolint:errcheck
	saveDroppedTotal.Inc()
}

// IncrPublishCrashDropped counts a publish dropped after retries.
func (m *Metrics) IncrPublishCrashDropped() {
	m.statter.Inc("publish_crash_dropped", 1, 1.0) //nolint:errcheck
	publishDroppedTotal.Inc()
}

// TimingSave records storage save duration.
func (m *Metrics) TimingSave(d time.Duration) {
	m.statter.TimingDuration("crash_save.time", d, 1.0) //nolint:errcheck
	saveSeconds.Observe(d.Seconds())
}

// TimingPublish records publish duration.
func (m *Metrics) TimingPublish(d time.Duration) {
	m.statter.TimingDuration("crash_publish.time", d, 1.0) //nolint:errcheck
	publishSeconds.Observe(d.Seconds())
}

// TimingCrashHandling records receipt-to-terminal duration.
func (m *Metrics) TimingCrashHandling(d time.Duration) {
	m.statter.TimingDuration("crash_handling.time", d, 1.0) //nolint:errcheck
	handlingSeconds.Observe(d.Seconds())
}

// IncrHealth counts a health endpoint hit.
func (m *Metrics) IncrHealth(endpoint string) {
	m.statter.Inc("health."+endpoint, 1, 1.0) //nolint:errcheck
	healthRequestsTotal.WithLabelValues(endpoint).Inc()
}

// ObserveHTTPRequest records request metrics for the router middleware.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
