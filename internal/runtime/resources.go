package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process load.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker samples the runtime for the admin API. CPU usage is the
// delta since the previous snapshot, so the first one reports zero.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	numCPU  float64

	prevCPU float64
	prevAt  time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{numCPU: float64(runtime.NumCPU())}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []metrics.Sample{{Name: sampleCPU}, {Name: sampleHeap}, {Name: sampleGoroutines}}
	}
	if r.numCPU == 0 {
		r.numCPU = float64(runtime.NumCPU())
	}
	metrics.Read(r.samples)
	now := time.Now()

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	for _, s := range r.samples {
		switch {
		case s.Name == sampleCPU && s.Value.Kind() == metrics.KindFloat64:
			cpu := s.Value.Float64()
			if !r.prevAt.IsZero() {
				if wall := now.Sub(r.prevAt).Seconds(); wall > 0 {
					usage.CPUPercent = (cpu - r.prevCPU) / wall / r.numCPU * 100
				}
			}
			r.prevCPU, r.prevAt = cpu, now
		case s.Name == sampleHeap && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == sampleGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}
	return usage
}
