package admin

import (
	"log/slog"

	"github.com/prometheus/procfs"
)

// SystemStats reports process/host resource usage for GET /api/admin/stats's
// memory and load fields.
type SystemStats struct {
	MemoryUsedKB  uint64  `json:"memoryUsedKb"`
	MemoryTotalKB uint64  `json:"memoryTotalKb"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
}

// sampleSystem reads /proc via procfs. Any failure (non-Linux host, missing
// /proc) yields a zero-value SystemStats rather than failing the whole
// stats endpoint — these fields are informational, not load-bearing.
func sampleSystem(logger *slog.Logger) SystemStats {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Warn("opening procfs for system stats", "error", err)
		return SystemStats{}
	}

	var stats SystemStats

	if load, err := fs.LoadAvg(); err != nil {
		logger.Warn("reading load average", "error", err)
	} else {
		stats.Load1, stats.Load5, stats.Load15 = load.Load1, load.Load5, load.Load15
	}

	if mem, err := fs.Meminfo(); err != nil {
		logger.Warn("reading meminfo", "error", err)
	} else {
		if mem.MemTotal != nil {
			stats.MemoryTotalKB = *mem.MemTotal
		}
		if mem.MemTotal != nil && mem.MemAvailable != nil {
			stats.MemoryUsedKB = *mem.MemTotal - *mem.MemAvailable
		}
	}

	return stats
}
