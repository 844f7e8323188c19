package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private Prometheus registry and the collectors for the
// admin HTTP surface, topology compilation, provisioning, lifecycle
// transitions and cleanup.
type Recorder struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	compiles        *prometheus.CounterVec
	applies         *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	cleanups        *prometheus.CounterVec
	ledgerFailures  prometheus.Counter
	controlHealth   *prometheus.GaugeVec
}

// New constructs a Recorder with every collector registered.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	r := &Recorder{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefleet_http_requests_total",
			Help: "Admin HTTP requests by method, normalized path and status.",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livefleet_http_request_duration_seconds",
			Help:    "Admin HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefleet_topology_compiles_total",
			Help: "Channel topology compilations by result.",
		}, []string{"result"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefleet_topology_applies_total",
			Help: "Channel topology applies by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefleet_lifecycle_transitions_total",
			Help: "Start/stop decisions per resource by desired state and outcome.",
		}, []string{"desired", "outcome"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "livefleet_cleanup_channels_total",
			Help: "Stale channels processed by cleanup, by outcome.",
		}, []string{"outcome"}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "livefleet_ledger_write_failures_total",
			Help: "Failed writes of the deployed-channel ledger.",
		}),
		controlHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livefleet_control_plane_up",
			Help: "1 when the named control plane component reported ok.",
		}, []string{"component"}),
	}
	registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.compiles,
		r.applies,
		r.transitions,
		r.cleanups,
		r.ledgerFailures,
		r.controlHealth,
	)
	return r
}

var (
	defaultMu       sync.RWMutex
	defaultRecorder = New()
)

// Default returns the process-wide recorder.
func Default() *Recorder {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRecorder
}

// SetDefault replaces the process-wide recorder. A nil recorder is ignored.
func SetDefault(r *Recorder) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defaultRecorder = r
	defaultMu.Unlock()
}

// OrDefault returns r, or the process-wide recorder when r is nil.
func OrDefault(r *Recorder) *Recorder {
	if r == nil {
		return Default()
	}
	return r
}

// ObserveRequest records one admin HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	path = normalizePath(path)
	r.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveCompile records a compilation result such as "ok" or
// "configuration_error".
func (r *Recorder) ObserveCompile(result string) {
	r.compiles.WithLabelValues(normalizeName(result)).Inc()
}

// ObserveApply records a provisioning result.
func (r *Recorder) ObserveApply(result string) {
	r.applies.WithLabelValues(normalizeName(result)).Inc()
}

// ObserveTransition records one start/stop decision.
func (r *Recorder) ObserveTransition(desired, outcome string) {
	r.transitions.WithLabelValues(normalizeName(desired), normalizeName(outcome)).Inc()
}

// ObserveCleanup records the outcome of one stale channel.
func (r *Recorder) ObserveCleanup(outcome string) {
	r.cleanups.WithLabelValues(normalizeName(outcome)).Inc()
}

// LedgerWriteFailed counts a failed ledger write.
func (r *Recorder) LedgerWriteFailed() {
	r.ledgerFailures.Inc()
}

// SetControlHealth exports the latest control plane health check.
func (r *Recorder) SetControlHealth(component, status string) {
	value := 0.0
	if strings.EqualFold(strings.TrimSpace(status), "ok") {
		value = 1
	}
	r.controlHealth.WithLabelValues(normalizeName(component)).Set(value)
}

// Registry exposes the underlying registry for additional collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler serves the process-wide recorder.
func Handler() http.Handler {
	return Default().Handler()
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if strings.HasPrefix(segment, "{") {
			continue
		}
		if i > 0 && segments[i-1] == "channels" && segment != "" {
			segments[i] = ":name"
			continue
		}
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
