package monitor

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Probe reads instantaneous host utilization. Abstracted so tests can feed
// synthetic load curves.
type Probe interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
}

// SystemProbe reads utilization from the host via gopsutil.
type SystemProbe struct{}

// CPUPercent returns total CPU utilization since the previous call.
func (SystemProbe) CPUPercent(ctx context.Context) (float64, error) {
	vals, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("read cpu percent: %w", err)
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("cpu percent returned no samples")
	}
	return vals[0], nil
}

// MemoryPercent returns host virtual memory utilization.
func (SystemProbe) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory percent: %w", err)
	}
	return vm.UsedPercent, nil
}
