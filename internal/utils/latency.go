package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of recent poll-cycle durations so
// the poller can log percentiles without unbounded growth. A feed polling
// every 45s fills the default window in about six hours.
type LatencyTracker struct {
	mu     sync.RWMutex
	window []time.Duration
	cap    int
}

// NewLatencyTracker creates a tracker holding at most size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{cap: size}
}

// Observe records one cycle duration, evicting the oldest sample once the
// window is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.window = append(l.window, d)
	if len(l.window) > l.cap {
		copy(l.window, l.window[1:])
		l.window = l.window[:l.cap]
	}
}

// Percentile returns the duration at percentile p (0-100) over the current
// window, or zero when no cycles have been observed. p=0 and p=100 report
// the fastest and slowest cycle in the window.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.window) == 0 {
		return 0
	}

	sorted := append([]time.Duration(nil), l.window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}

	idx := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[idx]
}

// Count reports how many cycle durations are in the window.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.window)
}
