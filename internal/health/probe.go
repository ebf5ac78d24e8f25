package health

import (
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one process-table reading for a single worker.
type Usage struct {
	CPUPercent float64
	MemPercent float64
}

// ProcessProbe reads per-process usage from the OS process table.
type ProcessProbe interface {
	Usage(pid int) (Usage, error)
}

// SystemProbe reads machine-wide cpu/mem usage.
type SystemProbe interface {
	SystemUsage() (cpuPct, memPct float64, err error)
}

// GopsutilProbe implements both probes on the gopsutil process table.
type GopsutilProbe struct{}

func (GopsutilProbe) Usage(pid int) (Usage, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, err
	}
	cpuPct, err := p.CPUPercent()
	if err != nil {
		return Usage{}, err
	}
	memPct, err := p.MemoryPercent()
	if err != nil {
		return Usage{}, err
	}
	return Usage{CPUPercent: cpuPct, MemPercent: float64(memPct)}, nil
}

func (GopsutilProbe) SystemUsage() (float64, float64, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}
