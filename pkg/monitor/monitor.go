// Package monitor collects rolling per-operation latency and error
// statistics for the graph router.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultRetention bounds how long a recorded sample participates in the
// detailed statistics before a cleanup sweep drops it.
const DefaultRetention = 3600 * time.Second

type series struct {
	durations  []time.Duration
	timestamps []time.Time
	errors     int
	lastError  string
}

// OperationStats is the computed summary for one operation name.
type OperationStats struct {
	Count     int           `json:"count"`
	Average   time.Duration `json:"average"`
	Median    time.Duration `json:"median"`
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
	StdDev    time.Duration `json:"std_dev"`
	ErrorRate float64       `json:"error_rate"`
	LastError string        `json:"last_error,omitempty"`
}

// PerformanceMonitor keeps a rolling window of operation durations keyed by
// operation name. Samples older than the retention window are dropped before
// detailed statistics are computed; durations and timestamps stay
// index-aligned through the sweep.
type PerformanceMonitor struct {
	mu        sync.Mutex
	metrics   map[string]*series
	retention time.Duration
}

// New returns a monitor with the given retention window. A non-positive
// retention falls back to DefaultRetention.
func New(retention time.Duration) *PerformanceMonitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &PerformanceMonitor{
		metrics:   make(map[string]*series),
		retention: retention,
	}
}

// RecordOperation appends one sample for name. A non-nil err bumps the
// error count and is kept as the most recent failure message.
func (m *PerformanceMonitor) RecordOperation(name string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.metrics[name]
	if !ok {
		s = &series{}
		m.metrics[name] = s
	}
	s.durations = append(s.durations, d)
	s.timestamps = append(s.timestamps, time.Now())
	if err != nil {
		s.errors++
		s.lastError = err.Error()
	}
}

// AverageTimes returns the mean duration per operation name over all
// retained samples.
func (m *PerformanceMonitor) AverageTimes() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Duration, len(m.metrics))
	for name, s := range m.metrics {
		if len(s.durations) == 0 {
			continue
		}
		var total time.Duration
		for _, d := range s.durations {
			total += d
		}
		out[name] = total / time.Duration(len(s.durations))
	}
	return out
}

// DetailedMetrics sweeps expired samples, then returns the full summary per
// operation name. Operations whose samples have all expired report only
// their error history through the next RecordOperation.
func (m *PerformanceMonitor) DetailedMetrics() map[string]OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()

	out := make(map[string]OperationStats, len(m.metrics))
	for name, s := range m.metrics {
		if stats, ok := computeStats(s); ok {
			out[name] = stats
		}
	}
	return out
}

// OperationStats returns the summary for a single operation name. The
// second return is false when the name has no retained samples.
func (m *PerformanceMonitor) OperationStats(name string) (OperationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()

	s, ok := m.metrics[name]
	if !ok {
		return OperationStats{}, false
	}
	return computeStats(s)
}

// Cleanup drops samples older than the retention window and returns how
// many were removed.
func (m *PerformanceMonitor) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

// Reset discards all recorded metrics.
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = make(map[string]*series)
}

func (m *PerformanceMonitor) cleanupLocked() int {
	cutoff := time.Now().Add(-m.retention)
	removed := 0
	for name, s := range m.metrics {
		i := 0
		for i < len(s.timestamps) && s.timestamps[i].Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		s.durations = s.durations[i:]
		s.timestamps = s.timestamps[i:]
		if len(s.durations) == 0 && s.errors == 0 {
			delete(m.metrics, name)
		}
	}
	return removed
}

func computeStats(s *series) (OperationStats, bool) {
	n := len(s.durations)
	if n == 0 {
		return OperationStats{}, false
	}

	sorted := make([]time.Duration, n)
	copy(sorted, s.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg := total / time.Duration(n)

	var median time.Duration
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	// Population standard deviation; zero when fewer than two samples.
	var stddev time.Duration
	if n >= 2 {
		mean := float64(total) / float64(n)
		var sumSq float64
		for _, d := range sorted {
			diff := float64(d) - mean
			sumSq += diff * diff
		}
		stddev = time.Duration(math.Sqrt(sumSq / float64(n)))
	}

	return OperationStats{
		Count:     n,
		Average:   avg,
		Median:    median,
		Min:       sorted[0],
		Max:       sorted[n-1],
		StdDev:    stddev,
		ErrorRate: float64(s.errors) / float64(n),
		LastError: s.lastError,
	}, true
}
