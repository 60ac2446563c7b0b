package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupported is returned on platforms without resource probes.
var ErrUnsupported = errors.New("monitor: resource metrics unsupported on this platform")

// DefaultSampleInterval is the CPU sampling window.
const DefaultSampleInterval = time.Second

// Resources is a snapshot of host utilisation.
type Resources struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DiskFreeGB    uint64  `json:"disk_free_gb"`
}

// String renders the snapshot for the decision service.
func (r Resources) String() string {
	return fmt.Sprintf("CPU Usage: %.1f%%\nMemory Usage: %.1f%% (Used: %dMB / Total: %dMB)\nDisk Usage: %.1f%% (Free: %dGB)",
		r.CPUPercent, r.MemoryPercent, r.MemoryUsedMB, r.MemoryTotalMB, r.DiskPercent, r.DiskFreeGB)
}

// ReadResources samples CPU over interval and reads memory and the disk
// holding path.
func ReadResources(ctx context.Context, path string, interval time.Duration) (Resources, error) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if path == "" {
		path = "/"
	}
	return readResources(ctx, path, interval)
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) * 100 / float64(total)
}
