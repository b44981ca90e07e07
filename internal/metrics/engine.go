// Package metrics collects and aggregates load test measurements.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Well-known metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricIterations      = "iterations"
	MetricChecks          = "checks"
	MetricErrors          = "errors"
)

// Engine collects and aggregates performance metrics using HDR histograms.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations,
// histograms and the rate/check registries are mutex protected, and the
// background emitter runs in its own goroutine.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	iterations      atomic.Int64

	activeVUs atomic.Int32

	rates      map[string]*Rate
	checks     map[string]*CheckStats
	checkOrder []string
	ratesMu    sync.RWMutex

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	endTime   atomic.Pointer[time.Time]

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// Histogram bounds in microseconds
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists:  make(map[string]*hdrhistogram.Histogram),
		rates:         make(map[string]*Rate),
		checks:        make(map[string]*CheckStats),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}

	// checks always exists so an all-green run still reports it
	e.rates[MetricChecks] = NewRate(MetricChecks)

	e.emitterWg.Add(1)
	go e.runEmitter()

	return e
}

// RecordLatency records one HTTP request.
//
// Parameters:
//   - duration: The request latency
//   - requestName: Name for per-request breakdown (empty string to skip)
//   - success: Whether the request succeeded
//   - bytes: Number of bytes received
func (e *Engine) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	micros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if requestName != "" {
		e.requestHistsMu.Lock()
		hist, ok := e.requestHists[requestName]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[requestName] = hist
		}
		_ = hist.RecordValue(micros)
		e.requestHistsMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	e.bucketStore.RecordRequest(success)
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// RecordIteration counts one completed scenario iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
}

// Rate returns the named rate metric, creating it on first use.
func (e *Engine) Rate(name string) *Rate {
	e.ratesMu.RLock()
	r, ok := e.rates[name]
	e.ratesMu.RUnlock()
	if ok {
		return r
	}

	e.ratesMu.Lock()
	defer e.ratesMu.Unlock()
	if r, ok = e.rates[name]; !ok {
		r = NewRate(name)
		e.rates[name] = r
	}
	return r
}

// AddCheck records one check outcome into the "checks" rate and the
// per-check tally.
func (e *Engine) AddCheck(name string, passed bool) {
	e.Rate(MetricChecks).Add(passed)

	e.ratesMu.Lock()
	cs, ok := e.checks[name]
	if !ok {
		cs = &CheckStats{Name: name}
		e.checks[name] = cs
		e.checkOrder = append(e.checkOrder, name)
	}
	if passed {
		cs.Passes++
	} else {
		cs.Fails++
	}
	e.ratesMu.Unlock()
}

// GetCheckStats returns per-check tallies in first-seen-name order.
func (e *Engine) GetCheckStats() []CheckStats {
	e.ratesMu.RLock()
	defer e.ratesMu.RUnlock()

	result := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		result = append(result, *e.checks[name])
	}
	return result
}

// SetPhase updates the current test phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current test phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveVUs updates the active VU count.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter() {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.emitterCtx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(),
		e.failedRequests.Load(),
		e.latencyStats(),
		e.GetActiveVUs(),
		e.GetPhase(),
	)
}

func (e *Engine) latencyStats() LatencyStats {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()
	return statsFromHistogram(e.latencyHist)
}

func statsFromHistogram(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// elapsed is frozen once the engine stops so rates stay stable afterwards.
func (e *Engine) elapsed() time.Duration {
	if end := e.endTime.Load(); end != nil {
		return end.Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	elapsed := e.elapsed()
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	e.ratesMu.RLock()
	rates := make(map[string]RateStats, len(e.rates))
	for name, r := range e.rates {
		rates[name] = r.Stats()
	}
	e.ratesMu.RUnlock()

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Iterations:      e.iterations.Load(),
		RPS:             rps,
		ErrorRate:       errorRate,
		Latency:         e.latencyStats(),
		Rates:           rates,
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// GetRequestStats returns per-request-name latency statistics.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	result := make(map[string]LatencyStats, len(e.requestHists))
	for name, hist := range e.requestHists {
		result[name] = statsFromHistogram(hist)
	}
	return result
}

// GetTimeSeries returns all time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// Value resolves an aggregated metric value for threshold evaluation.
//
// Durations are returned in milliseconds. The metric may carry a request
// name selector, e.g. "http_req_duration{name:create}". Supported
// aggregations:
//
//	http_req_duration: min, max, avg, med, count, p(N), pN
//	http_req_failed:   rate, count
//	http_reqs:         count, rate
//	iterations:        count, rate
//	<rate metric>:     rate, passes, fails
func (e *Engine) Value(metric, aggregation string) (float64, error) {
	name, selector := splitSelector(metric)

	switch name {
	case MetricHTTPReqDuration:
		return e.durationValue(selector, aggregation)

	case MetricHTTPReqFailed:
		if selector != "" {
			return 0, fmt.Errorf("%s does not support selectors", name)
		}
		snap := e.GetSnapshot()
		switch aggregation {
		case "rate":
			return snap.ErrorRate, nil
		case "count":
			return float64(snap.FailedRequests), nil
		}

	case MetricHTTPReqs, MetricIterations:
		if selector != "" {
			return 0, fmt.Errorf("%s does not support selectors", name)
		}
		count := e.totalRequests.Load()
		if name == MetricIterations {
			count = e.iterations.Load()
		}
		switch aggregation {
		case "count":
			return float64(count), nil
		case "rate":
			secs := e.elapsed().Seconds()
			if secs <= 0 {
				return 0, nil
			}
			return float64(count) / secs, nil
		}

	default:
		e.ratesMu.RLock()
		r, ok := e.rates[name]
		e.ratesMu.RUnlock()
		if !ok {
			return 0, fmt.Errorf("unknown metric: %s", metric)
		}
		stats := r.Stats()
		switch aggregation {
		case "rate":
			return stats.Rate, nil
		case "passes":
			return float64(stats.Passes), nil
		case "fails":
			return float64(stats.Fails), nil
		}
	}

	return 0, fmt.Errorf("metric %s does not support aggregation %q", metric, aggregation)
}

func (e *Engine) durationValue(requestName, aggregation string) (float64, error) {
	var hist *hdrhistogram.Histogram
	var mu *sync.Mutex

	if requestName == "" {
		hist, mu = e.latencyHist, &e.latencyHistMu
	} else {
		e.requestHistsMu.Lock()
		h, ok := e.requestHists[requestName]
		e.requestHistsMu.Unlock()
		if !ok {
			return 0, fmt.Errorf("no requests recorded with name %q", requestName)
		}
		hist, mu = h, &e.requestHistsMu
	}

	mu.Lock()
	defer mu.Unlock()

	toMillis := func(micros float64) float64 { return micros / 1000.0 }

	switch aggregation {
	case "min":
		return toMillis(float64(hist.Min())), nil
	case "max":
		return toMillis(float64(hist.Max())), nil
	case "avg":
		return toMillis(hist.Mean()), nil
	case "med":
		return toMillis(float64(hist.ValueAtQuantile(50))), nil
	case "count":
		return float64(hist.TotalCount()), nil
	}

	if q, ok := parsePercentile(aggregation); ok {
		return toMillis(float64(hist.ValueAtQuantile(q))), nil
	}
	return 0, fmt.Errorf("%s does not support aggregation %q", MetricHTTPReqDuration, aggregation)
}

// parsePercentile accepts "p(95)", "p(99.9)" and "p95".
func parsePercentile(s string) (float64, bool) {
	if !strings.HasPrefix(s, "p") {
		return 0, false
	}
	s = strings.TrimPrefix(s, "p")
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = s[1 : len(s)-1]
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil || q < 0 || q > 100 {
		return 0, false
	}
	return q, true
}

// splitSelector splits "metric{name:value}" into metric and value.
func splitSelector(metric string) (string, string) {
	open := strings.IndexByte(metric, '{')
	if open < 0 || !strings.HasSuffix(metric, "}") {
		return metric, ""
	}
	inner := metric[open+1 : len(metric)-1]
	key, value, ok := strings.Cut(inner, ":")
	if !ok || strings.TrimSpace(key) != "name" {
		return metric, ""
	}
	return metric[:open], strings.TrimSpace(value)
}

// Stop stops the background emitter and emits a final bucket.
// Calling Stop more than once is safe.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()

		now := time.Now()
		e.endTime.Store(&now)
		e.emitBucket()
	})
}
