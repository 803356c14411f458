package resources

import (
	"context"
	"sync"
	"time"

	"github.com/multiscale/costeer/pkg/metrics"
	"github.com/multiscale/costeer/pkg/types"
)

// SampleInterval is the monitor's nominal sampling rate (spec §4.6
// "sampling CPU and memory usage at ~1 Hz").
const SampleInterval = time.Second

// Sampler takes one CPU/memory observation of a running process. The
// repository ships one implementation, gopsutilSampler, against
// github.com/shirou/gopsutil/v3; tests use a fake.
type Sampler interface {
	Sample(pid int) (types.ResourceUsageSample, error)
}

// Writer persists collected samples somewhere outside the Manager's
// in-memory summary (spec.md §1 places raw-sample persistence out of
// scope for the core; this is the seam an external collaborator plugs
// into). The default Manager configuration uses no Writer at all.
type Writer interface {
	WriteSamples(pid int, samples []types.ResourceUsageSample) error
}

// Monitor samples one PID at SampleInterval until stopped, accumulating a
// running summary and optionally forwarding every sample to a Writer.
// actionID labels the Prometheus series a monitored PID belongs to, since a
// hub action can own several PIDs (one per MPI rank).
type Monitor struct {
	pid      int
	actionID string
	sampler  Sampler
	writer   Writer

	mu      sync.Mutex
	samples []types.ResourceUsageSample

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a monitor for pid, reporting under actionID. writer
// may be nil.
func NewMonitor(actionID string, pid int, sampler Sampler, writer Writer) *Monitor {
	return &Monitor{
		pid:      pid,
		actionID: actionID,
		sampler:  sampler,
		writer:   writer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sampling loop in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop halts sampling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	sample, err := m.sampler.Sample(m.pid)
	if err != nil {
		return
	}
	sample.PID = m.pid
	sample.At = time.Now()

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	m.mu.Unlock()

	metrics.PayloadCPUPercent.WithLabelValues(m.actionID).Set(sample.CPUPercent)
	metrics.PayloadRSSBytes.WithLabelValues(m.actionID).Set(float64(sample.RSSBytes))

	if m.writer != nil {
		_ = m.writer.WriteSamples(m.pid, []types.ResourceUsageSample{sample})
	}
}

// Summary snapshots the samples collected so far into a ResourceUsageSummary.
func (m *Monitor) Summary() types.ResourceUsageSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := types.ResourceUsageSummary{PID: m.pid, Samples: len(m.samples)}
	if len(m.samples) == 0 {
		return summary
	}

	summary.Start = m.samples[0].At
	summary.End = m.samples[len(m.samples)-1].At

	var cpuSum float64
	var rssSum uint64
	for _, s := range m.samples {
		cpuSum += s.CPUPercent
		rssSum += s.RSSBytes
		if s.CPUPercent > summary.CPUPercentMax {
			summary.CPUPercentMax = s.CPUPercent
		}
		if s.RSSBytes > summary.RSSBytesMax {
			summary.RSSBytesMax = s.RSSBytes
		}
	}
	summary.CPUPercentAvg = cpuSum / float64(len(m.samples))
	summary.RSSBytesAvg = rssSum / uint64(len(m.samples))
	return summary
}
