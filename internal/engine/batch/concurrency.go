package batch

import (
	"runtime"
)

const (
	// browserSessionMB is the assumed footprint of one browser fetch
	browserSessionMB = 50
	maxWorkers       = 50
)

// OptimalConcurrency sizes the worker pool from CPU count and free memory
func OptimalConcurrency() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return workersFor(runtime.NumCPU(), (m.Sys-m.Alloc)/1024/1024)
}

// workersFor allows three I/O-bound workers per CPU, bounded by maxWorkers
// and by how many browser sessions fit in freeMB.
func workersFor(cpus int, freeMB uint64) int {
	n := min(cpus*3, maxWorkers)
	if byMem := int(freeMB / browserSessionMB); byMem > 0 && byMem < n {
		n = byMem
	}
	return max(n, 1)
}
