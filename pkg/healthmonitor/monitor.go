package healthmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/transport"
	"github.com/multiscale/costeer/pkg/types"
)

// AlarmTopic is the topic label carried by every alarm the monitor
// publishes. The publisher's network address is configured separately.
const AlarmTopic = "health-alarm"

// AlarmEvent is published once C1/C2 stay violated after every retry.
type AlarmEvent struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Config mirrors the teacher's container health-check configuration,
// generalized from "consecutive failed checks" to "consecutive violated
// global-state invariant passes" (spec §4.2: interval, retry counter,
// network-delay sleep between retries).
type Config struct {
	Interval   time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DefaultConfig matches spec §4.2's default retry counter of 2.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Second,
		Retries:    2,
		RetryDelay: 200 * time.Millisecond,
	}
}

// RegistryChecker is the in-process registry surface the monitor needs. It
// is always the *registry.Registry living in the same OS process (spec §5:
// "Registry: one request-handling loop, plus one health monitor worker"),
// never the RPC client.
type RegistryChecker interface {
	UpdateGlobalState() error
	CurrentGlobalState() types.LocalState
}

// Monitor re-validates the global-state invariants at Config.Interval and
// raises an alarm when the violation survives Config.Retries re-checks.
type Monitor struct {
	registry RegistryChecker
	alarm    transport.Publisher
	cfg      Config
	log      zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMonitor constructs a Monitor. The caller binds alarmPublisher to the
// configured alarm address before construction.
func NewMonitor(registryChecker RegistryChecker, alarmPublisher transport.Publisher, cfg Config) *Monitor {
	return &Monitor{
		registry: registryChecker,
		alarm:    alarmPublisher,
		cfg:      cfg,
		log:      log.WithComponentID("health-monitor"),
		stopCh:   make(chan struct{}),
	}
}

// Run loops until ctx is cancelled or FinalizeMonitoring is called.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check re-validates C1/C2 once, retrying on violation per Config, and
// publishes an AlarmEvent if the violation survives every retry.
func (m *Monitor) check(ctx context.Context) {
	if m.revalidate() {
		metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
		return
	}

	for attempt := 0; attempt < m.cfg.Retries; attempt++ {
		select {
		case <-time.After(m.cfg.RetryDelay):
		case <-ctx.Done():
			return
		}
		if m.revalidate() {
			metrics.HealthChecksTotal.WithLabelValues("healthy").Inc()
			return
		}
	}

	metrics.HealthChecksTotal.WithLabelValues("violated").Inc()
	metrics.HealthAlarmsTotal.Inc()
	m.log.Error().Msg("healthmonitor: global-state invariant violated after retries, raising alarm")

	event := AlarmEvent{At: time.Now(), Reason: "global state invariant violated after retry exhaustion"}
	if err := m.alarm.Publish(ctx, AlarmTopic, event); err != nil {
		m.log.Error().Err(err).Msg("healthmonitor: publish alarm failed")
	}
}

// revalidate recomputes the global state and reports whether it currently
// satisfies C1/C2 (i.e. is not StateError).
func (m *Monitor) revalidate() bool {
	if err := m.registry.UpdateGlobalState(); err != nil {
		m.log.Warn().Err(err).Msg("healthmonitor: recompute global state failed")
	}
	return m.registry.CurrentGlobalState() != types.StateError
}

// FinalizeMonitoring stops the monitor's loop cooperatively (spec §4.2).
// Safe to call more than once.
func (m *Monitor) FinalizeMonitoring() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
