package system

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is a snapshot of process-host resource usage reported by the admin
// health endpoint.
type Stats struct {
	CPU       CPUStats    `json:"cpu"`
	Memory    MemoryStats `json:"memory"`
	Timestamp time.Time   `json:"timestamp"`
}

// CPUStats represents CPU usage statistics
type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	Cores        int     `json:"cores"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Total        uint64  `json:"total_bytes"`
	Used         uint64  `json:"used_bytes"`
	Available    uint64  `json:"available_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// Collect gathers current CPU and memory usage. Individual probe failures
// leave the corresponding section zeroed rather than failing the whole
// snapshot.
func Collect() *Stats {
	stats := &Stats{Timestamp: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPU.UsagePercent = percents[0]
	}
	if cores, err := cpu.Counts(true); err == nil {
		stats.CPU.Cores = cores
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = MemoryStats{
			Total:        vm.Total,
			Used:         vm.Used,
			Available:    vm.Available,
			UsagePercent: vm.UsedPercent,
		}
	}
	return stats
}
