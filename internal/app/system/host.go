package system

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is the host view reported by the health endpoint.
type HostStats struct {
	Goroutines      int     `json:"goroutines"`
	HeapAllocBytes  uint64  `json:"heap_alloc_bytes"`
	MemTotalBytes   uint64  `json:"mem_total_bytes,omitempty"`
	MemUsedPercent  float64 `json:"mem_used_percent,omitempty"`
	MemAvailableMiB uint64  `json:"mem_available_mib,omitempty"`
}

// ReadHostStats samples process and host memory. Host memory is omitted when
// the platform does not expose it.
func ReadHostStats(ctx context.Context) HostStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := HostStats{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemTotalBytes = vm.Total
		stats.MemUsedPercent = vm.UsedPercent
		stats.MemAvailableMiB = vm.Available / (1 << 20)
	}
	return stats
}
