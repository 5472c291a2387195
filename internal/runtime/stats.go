package runtime

import (
	"math"
	"slices"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// FlowResult classifies how one message left a flow.
type FlowResult string

const (
	FlowResultSuccess  FlowResult = "success"
	FlowResultHandled  FlowResult = "handled"
	FlowResultFailed   FlowResult = "failed"
	FlowResultCritical FlowResult = "critical"
)

// FlowStats accumulates per-flow processing statistics.
type FlowStats struct {
	mu sync.Mutex

	processed       uint64
	succeeded       uint64
	handled         uint64
	failed          uint64
	critical        uint64
	inFlight        uint64
	maxInFlight     uint64
	totalTime       time.Duration
	lastProcessedAt time.Time
	lastError       string
	errorTypes      map[string]uint64

	latency    *latencyWindow
	throughput *throughputWindow
}

// FlowStatsSnapshot is a point-in-time copy of FlowStats.
type FlowStatsSnapshot struct {
	MessagesProcessed uint64            `json:"messages_processed"`
	MessagesSucceeded uint64            `json:"messages_succeeded"`
	MessagesHandled   uint64            `json:"messages_handled"`
	MessagesFailed    uint64            `json:"messages_failed"`
	MessagesCritical  uint64            `json:"messages_critical"`
	InFlight          uint64            `json:"in_flight"`
	MaxInFlight       uint64            `json:"max_in_flight"`
	LastProcessedAt   time.Time         `json:"last_processed_at"`
	LastError         string            `json:"last_error,omitempty"`
	ErrorTypes        map[string]uint64 `json:"error_types"`
	Latency           LatencyMetrics    `json:"latency"`
	Throughput        ThroughputMetrics `json:"throughput"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

func newFlowStats() *FlowStats {
	return &FlowStats{
		errorTypes: make(map[string]uint64),
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
	}
}

func (s *FlowStats) onStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
}

// onFinish records one message. errorType is empty on success.
func (s *FlowStats) onFinish(result FlowResult, duration time.Duration, errorType string, err error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight > 0 {
		s.inFlight--
	}
	s.processed++
	s.totalTime += duration
	s.lastProcessedAt = now.UTC()

	switch result {
	case FlowResultSuccess:
		s.succeeded++
	case FlowResultHandled:
		s.handled++
	case FlowResultCritical:
		s.critical++
	default:
		s.failed++
	}
	if errorType != "" {
		s.errorTypes[errorType]++
	}
	if err != nil {
		s.lastError = err.Error()
	}

	s.latency.Add(duration)
	s.throughput.Add(now)
}

// Snapshot copies the current counters.
func (s *FlowStats) Snapshot() FlowStatsSnapshot {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := FlowStatsSnapshot{
		MessagesProcessed: s.processed,
		MessagesSucceeded: s.succeeded,
		MessagesHandled:   s.handled,
		MessagesFailed:    s.failed,
		MessagesCritical:  s.critical,
		InFlight:          s.inFlight,
		MaxInFlight:       s.maxInFlight,
		LastProcessedAt:   s.lastProcessedAt,
		LastError:         s.lastError,
		ErrorTypes:        make(map[string]uint64, len(s.errorTypes)),
		Latency:           s.latency.Snapshot(),
		Throughput:        s.throughput.Snapshot(now),
	}
	for k, v := range s.errorTypes {
		snap.ErrorTypes[k] = v
	}
	if s.processed > 0 {
		snap.Latency.AverageNs = int64(s.totalTime) / int64(s.processed)
	}
	return snap
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := range lw.filled {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	slices.Sort(samples)
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

// percentile interpolates linearly between the two nearest ranks of sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) Add(now time.Time) {
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = slices.Delete(tw.samples, 0, idx)
	}
}

func (tw *throughputWindow) Snapshot(now time.Time) ThroughputMetrics {
	tw.cleanup(now)
	if len(tw.samples) == 0 {
		return ThroughputMetrics{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return ThroughputMetrics{
		CurrentRPS:       float64(count) / span.Seconds(),
		WindowSeconds:    span.Seconds(),
		MessagesInWindow: uint64(count),
	}
}
