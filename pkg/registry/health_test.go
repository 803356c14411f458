package registry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/types"
)

func TestHealthMonitor_NoAlarmWhenValid(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	r := New()
	require.NoError(t, r.Register(descriptor("p1", "companion-1", types.CategoryApplicationCompanion, types.StateReady)))

	var alarms int32
	m := NewHealthMonitor(r, 10*time.Millisecond, func(string) { atomic.AddInt32(&alarms, 1) })
	m.retryDelay = time.Millisecond
	m.Start()
	time.Sleep(50 * time.Millisecond)
	m.FinalizeMonitoring()

	require.Equal(t, int32(0), atomic.LoadInt32(&alarms))
}

func TestHealthMonitor_AlarmsOnSustainedViolation(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	r := New()
	require.NoError(t, r.Register(descriptor("p1", "companion-1", types.CategoryApplicationCompanion, types.StateReady)))
	require.NoError(t, r.Register(descriptor("p2", "companion-2", types.CategoryApplicationCompanion, types.StateRunning)))

	alarmed := make(chan string, 1)
	m := NewHealthMonitor(r, 10*time.Millisecond, func(reason string) { alarmed <- reason })
	m.retryDelay = time.Millisecond
	m.Start()
	defer m.FinalizeMonitoring()

	select {
	case reason := <-alarmed:
		require.NotEmpty(t, reason)
	case <-time.After(time.Second):
		t.Fatal("expected health monitor to raise an alarm on sustained violation")
	}
}

func TestHealthMonitor_FinalizeMonitoringStopsTheLoop(t *testing.T) {
	resetSingleton()
	defer resetSingleton()

	r := New()
	require.NoError(t, r.Register(descriptor("p1", "companion-1", types.CategoryApplicationCompanion, types.StateReady)))

	m := NewHealthMonitor(r, 5*time.Millisecond, nil)
	m.Start()
	m.FinalizeMonitoring()

	// The loop must have exited, closing doneCh, by the time
	// FinalizeMonitoring returns.
	select {
	case <-m.doneCh:
	default:
		t.Fatal("expected doneCh to be closed after FinalizeMonitoring")
	}
}
