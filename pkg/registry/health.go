package registry

import (
	"time"

	"github.com/multiscale/costeer/pkg/log"
	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/types"
)

// DefaultRetryCount is the number of re-validation attempts the monitor
// makes before raising an alarm (spec §4.2 "retries counter times (default
// 2)").
const DefaultRetryCount = 2

// DefaultRetryDelay is the network-delay sleep between retries, long enough
// to rule out a transient skew between a descriptor update and the next
// poll.
const DefaultRetryDelay = 200 * time.Millisecond

// HealthMonitor periodically re-validates the registry's global-state
// invariants (C1, C2) and raises a process-local alarm on sustained
// violation. The alarm's only effect, per spec §4.2, is to trigger the
// Orchestrator's emergency-shutdown path; onAlarm is how the hosting
// process wires that trigger in.
type HealthMonitor struct {
	registry    *Registry
	interval    time.Duration
	retryCount  int
	retryDelay  time.Duration
	onAlarm     func(reason string)
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewHealthMonitor creates a monitor over registry, polling every interval.
// onAlarm is invoked (at most once per sustained violation) from the
// monitor's own goroutine; callers that need to fan out further should do
// so asynchronously inside onAlarm rather than block it.
func NewHealthMonitor(registry *Registry, interval time.Duration, onAlarm func(reason string)) *HealthMonitor {
	return &HealthMonitor{
		registry:   registry,
		interval:   interval,
		retryCount: DefaultRetryCount,
		retryDelay: DefaultRetryDelay,
		onAlarm:    onAlarm,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the monitor loop in its own goroutine.
func (m *HealthMonitor) Start() {
	go m.run()
}

// FinalizeMonitoring stops the monitor and waits for its goroutine to
// exit (spec §4.2 "the monitor stops when finalize_monitoring() is
// called").
func (m *HealthMonitor) FinalizeMonitoring() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *HealthMonitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *HealthMonitor) check() {
	if err := m.registry.UpdateGlobalState(); err != nil {
		log.Errorf("health monitor: update global state", err)
	}
	if m.valid() {
		metrics.HealthChecksTotal.WithLabelValues("ok").Inc()
		return
	}

	for attempt := 1; attempt <= m.retryCount; attempt++ {
		time.Sleep(m.retryDelay)
		if err := m.registry.UpdateGlobalState(); err != nil {
			log.Errorf("health monitor: update global state", err)
		}
		if m.valid() {
			metrics.HealthChecksTotal.WithLabelValues("recovered").Inc()
			return
		}
	}

	metrics.HealthChecksTotal.WithLabelValues("violated").Inc()
	metrics.HealthAlarmsTotal.Inc()
	if m.onAlarm != nil {
		m.onAlarm("global state invariant violated after retry")
	}
}

// valid reports whether both C1 (every descriptor UP) and C2 (stateful
// descriptors share one state) currently hold, i.e. the global state is not
// ERROR.
func (m *HealthMonitor) valid() bool {
	return m.registry.CurrentGlobalState() != types.StateError
}
