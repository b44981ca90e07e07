package metrics

import "sync/atomic"

// Rate tracks the fraction of true samples, e.g. failed iterations.
//
// Rate is safe for concurrent use; Add never loses updates.
type Rate struct {
	name   string
	passes atomic.Int64
	fails  atomic.Int64
}

// NewRate creates a named rate metric.
func NewRate(name string) *Rate {
	return &Rate{name: name}
}

// Name returns the metric name.
func (r *Rate) Name() string {
	return r.name
}

// Add records one sample.
func (r *Rate) Add(value bool) {
	if value {
		r.passes.Add(1)
	} else {
		r.fails.Add(1)
	}
}

// AddCheck records a check outcome, so a Rate can serve as a check recorder.
func (r *Rate) AddCheck(_ string, passed bool) {
	r.Add(passed)
}

// Stats returns the current passes, fails and rate.
func (r *Rate) Stats() RateStats {
	passes := r.passes.Load()
	fails := r.fails.Load()

	stats := RateStats{Passes: passes, Fails: fails}
	if total := passes + fails; total > 0 {
		stats.Rate = float64(passes) / float64(total)
	}
	return stats
}

// Reset zeroes the counters.
func (r *Rate) Reset() {
	r.passes.Store(0)
	r.fails.Store(0)
}
