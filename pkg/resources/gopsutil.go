package resources

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/multiscale/costeer/pkg/types"
)

// gopsutilSampler is the production Sampler, backed by gopsutil/v3/process.
type gopsutilSampler struct{}

// NewGopsutilSampler returns a Sampler that reads CPU percent and resident
// set size straight from the OS process table.
func NewGopsutilSampler() Sampler {
	return gopsutilSampler{}
}

func (gopsutilSampler) Sample(pid int) (types.ResourceUsageSample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return types.ResourceUsageSample{}, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return types.ResourceUsageSample{}, err
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return types.ResourceUsageSample{}, err
	}

	return types.ResourceUsageSample{
		PID:        pid,
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
	}, nil
}
