package monitoring

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultReservoirSize is the number of recent samples kept per role
const DefaultReservoirSize = 4096

// LatencySummary describes a window of recent durations
type LatencySummary struct {
	Count  int64         `json:"count"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stddev"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
}

// Reservoir keeps the most recent samples in a ring buffer
type Reservoir struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	total   int64
}

// NewReservoir creates a reservoir holding up to size samples
func NewReservoir(size int) *Reservoir {
	if size < 1 {
		size = DefaultReservoirSize
	}
	return &Reservoir{samples: make([]float64, size)}
}

// Add records a sample in seconds
func (r *Reservoir) Add(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = v
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
	r.total++
}

// Summary computes statistics over the retained samples. Count is the total
// number of samples ever added.
func (r *Reservoir) Summary() LatencySummary {
	r.mu.Lock()
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	window := make([]float64, n)
	copy(window, r.samples[:n])
	total := r.total
	r.mu.Unlock()

	summary := LatencySummary{Count: total}
	if n == 0 {
		return summary
	}

	sort.Float64s(window)
	mean, std := stat.MeanStdDev(window, nil)
	if n == 1 {
		std = 0
	}

	summary.Mean = seconds(mean)
	summary.StdDev = seconds(std)
	summary.P50 = seconds(stat.Quantile(0.50, stat.Empirical, window, nil))
	summary.P95 = seconds(stat.Quantile(0.95, stat.Empirical, window, nil))
	summary.P99 = seconds(stat.Quantile(0.99, stat.Empirical, window, nil))
	summary.Max = seconds(window[n-1])
	return summary
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
