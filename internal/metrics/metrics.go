package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupSource identifies where a denylist answer came from.
type LookupSource string

const (
	// LookupSourceCache indicates a fresh cached record answered the lookup.
	LookupSourceCache LookupSource = "cache"
	// LookupSourceRemote indicates the remote denylist service was consulted.
	LookupSourceRemote LookupSource = "remote"
	// LookupSourceShared indicates the caller joined an in-flight remote lookup.
	LookupSourceShared LookupSource = "shared"
)

// LookupResult captures the outcome of a denylist lookup.
type LookupResult string

const (
	// LookupListed indicates the user is denylisted.
	LookupListed LookupResult = "listed"
	// LookupClear indicates the user is not denylisted.
	LookupClear LookupResult = "clear"
	// LookupFailed indicates the lookup failed soft and was treated as clear.
	LookupFailed LookupResult = "failed"
)

// ActionResult captures the outcome of an enforcement side effect.
type ActionResult string

const (
	ActionSucceeded ActionResult = "succeeded"
	ActionFailed    ActionResult = "failed"
	ActionSkipped   ActionResult = "skipped"
)

// Recorder publishes Prometheus metrics for enforcement activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	lookups        *prometheus.CounterVec
	lookupLatency  *prometheus.HistogramVec
	gateWait       prometheus.Histogram
	decisions      *prometheus.CounterVec
	actions        *prometheus.CounterVec
	appealRequests *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewarden",
		Subsystem: "denylist",
		Name:      "lookups_total",
		Help:      "Denylist lookups by answer source and result.",
	}, []string{"source", "result"})

	lookupLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gatewarden",
		Subsystem: "denylist",
		Name:      "lookup_duration_seconds",
		Help:      "Latency distribution for denylist lookups, including gate wait.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"source"})

	gateWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gatewarden",
		Subsystem: "denylist",
		Name:      "gate_wait_seconds",
		Help:      "Time spent queued behind the upstream rate gate.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewarden",
		Subsystem: "enforcement",
		Name:      "decisions_total",
		Help:      "Enforcement decisions by entry point, decision, and mode.",
	}, []string{"entry_point", "decision", "mode"})

	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewarden",
		Subsystem: "enforcement",
		Name:      "actions_total",
		Help:      "Enforcement side effects (notices, bans) by result.",
	}, []string{"action", "result"})

	appealRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatewarden",
		Subsystem: "appeal",
		Name:      "operations_total",
		Help:      "Appeal store operations by result.",
	}, []string{"operation", "result"})

	reg.MustRegister(lookups, lookupLatency, gateWait, decisions, actions, appealRequests)

	return &Recorder{
		gatherer:       reg,
		handler:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		lookups:        lookups,
		lookupLatency:  lookupLatency,
		gateWait:       gateWait,
		decisions:      decisions,
		actions:        actions,
		appealRequests: appealRequests,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records a completed denylist lookup.
func (r *Recorder) ObserveLookup(source LookupSource, result LookupResult, duration time.Duration) {
	if r == nil {
		return
	}
	sourceLabel := normalizeLabel(string(source))
	r.lookups.WithLabelValues(sourceLabel, normalizeLabel(string(result))).Inc()
	r.lookupLatency.WithLabelValues(sourceLabel).Observe(duration.Seconds())
}

// ObserveGateWait records how long a caller queued for the rate gate.
func (r *Recorder) ObserveGateWait(duration time.Duration) {
	if r == nil {
		return
	}
	r.gateWait.Observe(duration.Seconds())
}

// ObserveDecision records an enforcement decision at an entry point. Mode is
// empty for allow decisions.
func (r *Recorder) ObserveDecision(entryPoint, decision, mode string) {
	if r == nil {
		return
	}
	modeLabel := strings.TrimSpace(mode)
	if modeLabel == "" {
		modeLabel = "none"
	}
	r.decisions.WithLabelValues(normalizeLabel(entryPoint), normalizeLabel(decision), modeLabel).Inc()
}

// ObserveAction records the outcome of a notice or ban side effect.
func (r *Recorder) ObserveAction(action string, result ActionResult) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(normalizeLabel(action), normalizeLabel(string(result))).Inc()
}

// ObserveAppeal records an appeal store operation.
func (r *Recorder) ObserveAppeal(operation, result string) {
	if r == nil {
		return
	}
	r.appealRequests.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
