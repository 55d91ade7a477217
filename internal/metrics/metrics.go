// Package metrics exposes Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicebridge"

var (
	// callsActive is a gauge of currently active call sessions.
	callsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active call sessions",
		},
	)

	// callsTotal is a counter of call sessions by how they ended.
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of call sessions",
		},
		[]string{"outcome"}, // outcome: completed, redirected, error
	)

	// framesTotal is a counter of outbound audio frames by disposition.
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total outbound audio frames",
		},
		[]string{"disposition"}, // disposition: sent, cleared, failed
	)

	// bargeInsTotal is a counter of caller interruptions of assistant speech.
	bargeInsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total caller barge-ins during assistant speech",
		},
	)

	// toolCallsTotal is a counter of dispatched tool calls.
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of dispatched tool calls",
		},
		[]string{"tool", "status"}, // status: success, error, unknown
	)

	// callDuration is a histogram of completed call duration in seconds.
	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Histogram of completed call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	allMetrics = []prometheus.Collector{
		callsActive,
		callsTotal,
		framesTotal,
		bargeInsTotal,
		toolCallsTotal,
		callDuration,
	}
)

func init() {
	for _, c := range allMetrics {
		prometheus.MustRegister(c)
	}
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

// CallStarted marks a session active.
func CallStarted() { callsActive.Inc() }

// CallEnded marks a session finished with the given outcome and duration.
func CallEnded(outcome string, seconds float64) {
	callsActive.Dec()
	callsTotal.WithLabelValues(outcome).Inc()
	callDuration.Observe(seconds)
}

// RecordFrames adds n frames with the given disposition.
func RecordFrames(disposition string, n int) {
	if n > 0 {
		framesTotal.WithLabelValues(disposition).Add(float64(n))
	}
}

// RecordBargeIn counts one caller interruption.
func RecordBargeIn() { bargeInsTotal.Inc() }

// RecordToolCall counts one dispatched tool call.
func RecordToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}
