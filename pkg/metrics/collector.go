package metrics

import (
	"time"

	"github.com/multiscale/costeer/pkg/types"
)

// DescriptorSource is the minimal view of the registry a Collector needs.
// pkg/registry.Registry satisfies this; tests can supply a fake.
type DescriptorSource interface {
	ListDescriptors() []*types.ServiceDescriptor
	GlobalState() types.LocalState
}

// Collector periodically snapshots registry state into the package-level
// Prometheus gauges.
type Collector struct {
	source DescriptorSource
	stopCh chan struct{}
}

// NewCollector creates a collector over source.
func NewCollector(source DescriptorSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection at 15s intervals, matching the
// Prometheus scrape cadence components run at.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[types.Category]map[types.Status]int)
	for _, d := range c.source.ListDescriptors() {
		if counts[d.Category] == nil {
			counts[d.Category] = make(map[types.Status]int)
		}
		counts[d.Category][d.Status]++
	}
	for category, byStatus := range counts {
		for status, n := range byStatus {
			DescriptorsTotal.WithLabelValues(string(category), string(status)).Set(float64(n))
		}
	}

	current := c.source.GlobalState()
	for _, state := range []types.LocalState{
		types.StateInitializing, types.StateReady, types.StateSynchronizing,
		types.StateRunning, types.StatePaused, types.StateTerminated, types.StateError,
	} {
		v := 0.0
		if state == current {
			v = 1.0
		}
		GlobalState.WithLabelValues(string(state)).Set(v)
	}
}
