package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	submissionMetricsOnce sync.Once
	submissionRegistry    *SubmissionMetrics

	nodeStatusOnce     sync.Once
	nodeStatusRegistry *NodeStatusMetrics
)

// API returns the lazily-initialised metrics registry used to record HTTP API
// activity of the confirmation daemon.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "payconfirm",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route.
func (m *apiMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// SubmissionMetrics wraps collectors tracking the payment submission
// controller.
type SubmissionMetrics struct {
	attempts        *prometheus.CounterVec
	latency         prometheus.Histogram
	refreshFailures prometheus.Counter
	pending         prometheus.Gauge
	haptics         prometheus.Counter
	workflowEnds    *prometheus.CounterVec
}

// Submission exposes the metrics registry for the submission controller.
func Submission() *SubmissionMetrics {
	submissionMetricsOnce.Do(func() {
		submissionRegistry = &SubmissionMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "submission",
				Name:      "attempts_total",
				Help:      "Submit calls segmented by outcome (rejected, completed, failed).",
			}, []string{"outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "payconfirm",
				Subsystem: "submission",
				Name:      "payment_duration_seconds",
				Help:      "Latency distribution of accepted payment submissions.",
				Buckets:   prometheus.DefBuckets,
			}),
			refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "submission",
				Name:      "balance_refresh_failures_total",
				Help:      "Count of balance refreshes that failed after a successful payment.",
			}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "payconfirm",
				Subsystem: "submission",
				Name:      "pending",
				Help:      "Indicates whether a payment submission is in flight (1) or not (0).",
			}),
			haptics: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "submission",
				Name:      "haptic_feedback_total",
				Help:      "Count of success feedback vibrations emitted.",
			}),
			workflowEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "workflow",
				Name:      "ended_total",
				Help:      "Count of workflows torn down segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			submissionRegistry.attempts,
			submissionRegistry.latency,
			submissionRegistry.refreshFailures,
			submissionRegistry.pending,
			submissionRegistry.haptics,
			submissionRegistry.workflowEnds,
		)
	})
	return submissionRegistry
}

// RecordAttempt increments the attempt counter for the supplied outcome.
func (m *SubmissionMetrics) RecordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// ObserveLatency records the duration of an accepted submission.
func (m *SubmissionMetrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

// RecordRefreshFailure increments the balance refresh failure counter.
func (m *SubmissionMetrics) RecordRefreshFailure() {
	if m == nil {
		return
	}
	m.refreshFailures.Inc()
}

// SetPending toggles the in-flight gauge.
func (m *SubmissionMetrics) SetPending(pending bool) {
	if m == nil {
		return
	}
	m.pending.Set(boolToFloat(pending))
}

// RecordHaptic counts an emitted vibration.
func (m *SubmissionMetrics) RecordHaptic() {
	if m == nil {
		return
	}
	m.haptics.Inc()
}

// RecordWorkflowEnd counts a workflow teardown for the supplied reason.
func (m *SubmissionMetrics) RecordWorkflowEnd(reason string) {
	if m == nil {
		return
	}
	m.workflowEnds.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// NodeStatusMetrics exposes the readiness signals reported by the node.
type NodeStatusMetrics struct {
	signals    *prometheus.GaugeVec
	pollErrors *prometheus.CounterVec
}

// NodeStatus returns the node readiness metrics registry.
func NodeStatus() *NodeStatusMetrics {
	nodeStatusOnce.Do(func() {
		nodeStatusRegistry = &NodeStatusMetrics{
			signals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "payconfirm",
				Subsystem: "node",
				Name:      "signal_ready",
				Help:      "Readiness signals reported by the node (1 ready, 0 not ready).",
			}, []string{"signal"}),
			pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "payconfirm",
				Subsystem: "node",
				Name:      "poll_errors_total",
				Help:      "Count of failed node status polls segmented by probe.",
			}, []string{"probe"}),
		}
		prometheus.MustRegister(nodeStatusRegistry.signals, nodeStatusRegistry.pollErrors)
	})
	return nodeStatusRegistry
}

// SetSignal records the state of a single readiness signal.
func (m *NodeStatusMetrics) SetSignal(signal string, ready bool) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(labelOrUnknown(signal)).Set(boolToFloat(ready))
}

// RecordPollError increments the poll error counter for a probe.
func (m *NodeStatusMetrics) RecordPollError(probe string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(labelOrUnknown(probe)).Inc()
}

func labelOrUnknown(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
