package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	DescriptorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costeer_registry_descriptors_total",
			Help: "Total number of registered service descriptors by category and status",
		},
		[]string{"category", "status"},
	)

	GlobalState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costeer_registry_global_state",
			Help: "Whether the derived global state equals the named state (1 = current, 0 = not)",
		},
		[]string{"state"},
	)

	// Orchestrator / steering metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_orchestrator_commands_total",
			Help: "Total number of steering commands issued by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costeer_orchestrator_command_duration_seconds",
			Help:    "Time from issuing a steering command to collecting every companion reply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	EmergencyShutdownsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "costeer_orchestrator_emergency_shutdowns_total",
			Help: "Total number of emergency shutdowns triggered by a health alarm",
		},
	)

	GlobalMinStepSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "costeer_orchestrator_global_min_step_size",
			Help: "Global minimum simulator step size extracted at INIT",
		},
	)

	// Health monitor metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_health_checks_total",
			Help: "Total number of health re-validation passes by result",
		},
		[]string{"result"},
	)

	HealthAlarmsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "costeer_health_monitor_alarms_total",
			Help: "Total number of health alarms raised after exhausting the retry counter",
		},
	)

	// Application Manager / payload metrics
	PayloadsLaunchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_appmanager_payloads_launched_total",
			Help: "Total number of payload processes launched by goal",
		},
		[]string{"goal"},
	)

	PayloadsCrashedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_appmanager_payloads_crashed_total",
			Help: "Total number of payload processes that exited unexpectedly by goal",
		},
		[]string{"goal"},
	)

	PayloadCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costeer_appmanager_payload_cpu_percent",
			Help: "Most recent CPU percent sample for a monitored payload PID",
		},
		[]string{"action_id"},
	)

	PayloadRSSBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costeer_appmanager_payload_rss_bytes",
			Help: "Most recent resident set size sample for a monitored payload PID",
		},
		[]string{"action_id"},
	)

	// Companion metrics
	CompanionRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_companion_replies_total",
			Help: "Total number of replies an Application Companion sent back to C&C, by command and result",
		},
		[]string{"command", "result"},
	)

	// Transport / wire metrics
	WireMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costeer_wire_messages_total",
			Help: "Total number of framed wire messages sent or received by direction and pattern",
		},
		[]string{"direction", "pattern"},
	)

	WireBindRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "costeer_wire_bind_retries_total",
			Help: "Total number of port-bind retries consumed while searching a configured port range",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DescriptorsTotal,
		GlobalState,
		CommandsTotal,
		CommandDuration,
		EmergencyShutdownsTotal,
		GlobalMinStepSize,
		HealthChecksTotal,
		HealthAlarmsTotal,
		PayloadsLaunchedTotal,
		PayloadsCrashedTotal,
		PayloadCPUPercent,
		PayloadRSSBytes,
		CompanionRepliesTotal,
		WireMessagesTotal,
		WireBindRetriesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing the result
// into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
