package metrics

import "time"

// Phase represents a phase of the load test.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64   `json:"totalRequests"`
	SuccessRequests int64   `json:"successRequests"`
	FailedRequests  int64   `json:"failedRequests"`
	TotalBytes      int64   `json:"totalBytes"`
	Iterations      int64   `json:"iterations"`
	RPS             float64 `json:"rps"`

	// ErrorRate is the fraction of failed requests (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	Latency LatencyStats `json:"latency"`

	// Rates holds named rate metrics such as "checks" and "errors"
	Rates map[string]RateStats `json:"rates,omitempty"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// RateStats is the state of a Rate metric.
type RateStats struct {
	Passes int64   `json:"passes"`
	Fails  int64   `json:"fails"`
	Rate   float64 `json:"rate"`
}

// Total returns passes + fails.
func (r RateStats) Total() int64 {
	return r.Passes + r.Fails
}

// CheckStats aggregates the outcomes of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase
	Timestamp time.Time
	Requests  int64
}

// TimeBucket holds the metrics emitted for one bucket interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters
	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	// Interval counters
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}
