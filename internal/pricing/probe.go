package pricing

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostProbe samples host cpu and memory and asks the admission layer for the
// current active-user count.
type HostProbe struct {
	activeUsers func() int
}

// NewHostProbe creates a probe. activeUsers may be nil when no user signal
// is available.
func NewHostProbe(activeUsers func() int) *HostProbe {
	return &HostProbe{activeUsers: activeUsers}
}

// Sample reads the current host load. The zero cpu interval compares against
// the previous call, so successive samples are cheap.
func (p *HostProbe) Sample(ctx context.Context) (LoadSample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return LoadSample{}, fmt.Errorf("sample cpu: %w", err)
	}
	var cpuPercent float64
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return LoadSample{}, fmt.Errorf("sample memory: %w", err)
	}
	sample := LoadSample{CPUPercent: cpuPercent, MemoryPercent: vm.UsedPercent}
	if p.activeUsers != nil {
		sample.ActiveUsers = p.activeUsers()
	}
	return sample, nil
}
