package resources_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/resources"
	"github.com/multiscale/costeer/pkg/types"
)

type fakeSampler struct {
	mu      sync.Mutex
	samples []types.ResourceUsageSample
	idx     int
	err     error
}

func (f *fakeSampler) Sample(pid int) (types.ResourceUsageSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return types.ResourceUsageSample{}, f.err
	}
	if f.idx >= len(f.samples) {
		return f.samples[len(f.samples)-1], nil
	}
	s := f.samples[f.idx]
	f.idx++
	return s, nil
}

type fakeWriter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeWriter) WriteSamples(pid int, samples []types.ResourceUsageSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func TestMonitor_SummaryAggregatesSamples(t *testing.T) {
	sampler := &fakeSampler{samples: []types.ResourceUsageSample{
		{CPUPercent: 10, RSSBytes: 1000},
		{CPUPercent: 30, RSSBytes: 3000},
		{CPUPercent: 20, RSSBytes: 2000},
	}}
	writer := &fakeWriter{}

	m := resources.NewMonitor("action-1", 4711, sampler, writer)
	m.Start(context.Background())

	require.Eventually(t, func() bool {
		return m.Summary().Samples >= 3
	}, 4*time.Second, 20*time.Millisecond)

	m.Stop()

	summary := m.Summary()
	require.Equal(t, 4711, summary.PID)
	require.InDelta(t, 20, summary.CPUPercentAvg, 0.01)
	require.Equal(t, float64(30), summary.CPUPercentMax)
	require.Equal(t, uint64(3000), summary.RSSBytesMax)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	require.GreaterOrEqual(t, writer.calls, 3)
}

func TestMonitor_StopBeforeAnySampleYieldsEmptySummary(t *testing.T) {
	sampler := &fakeSampler{samples: []types.ResourceUsageSample{{CPUPercent: 1}}}
	m := resources.NewMonitor("action-2", 1, sampler, nil)
	m.Start(context.Background())
	m.Stop()

	summary := m.Summary()
	require.Equal(t, 0, summary.Samples)
}
