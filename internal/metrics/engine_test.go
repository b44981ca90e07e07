package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
	if _, ok := snapshot.Rates[MetricChecks]; !ok {
		t.Errorf("checks rate missing from initial snapshot")
	}
}

func TestEngine_RecordLatency(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordLatency(10*time.Millisecond, "create", true, 1000)
	engine.RecordLatency(20*time.Millisecond, "create", true, 2000)
	engine.RecordLatency(30*time.Millisecond, "list", false, 500)

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}
	assert.InDelta(t, 1.0/3.0, snapshot.ErrorRate, 1e-9)

	stats := engine.GetRequestStats()
	require.Contains(t, stats, "create")
	require.Contains(t, stats, "list")
	assert.Equal(t, int64(2), stats["create"].Count)
	assert.Equal(t, int64(1), stats["list"].Count)
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 10; i++ {
		engine.RecordLatency(time.Duration(i*10)*time.Millisecond, "", true, 100)
	}

	lat := engine.GetSnapshot().Latency

	if lat.P50 < 40*time.Millisecond || lat.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", lat.P50)
	}
	if lat.P99 < 90*time.Millisecond || lat.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", lat.P99)
	}
	if lat.Min < 9*time.Millisecond || lat.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", lat.Min)
	}
	if lat.Max < 99*time.Millisecond || lat.Max > 101*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", lat.Max)
	}
}

func TestEngine_Phase(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	phases := []Phase{PhaseRampUp, PhaseSteady, PhaseSteady, PhaseRampDown, PhaseDone}
	for _, phase := range phases {
		engine.SetPhase(phase)
		if engine.GetPhase() != phase {
			t.Errorf("After SetPhase(%v), GetPhase() = %v", phase, engine.GetPhase())
		}
	}

	// Repeated phases are not recorded twice.
	if got := len(engine.GetPhaseHistory()); got != 4 {
		t.Errorf("PhaseHistory length = %d, want 4", got)
	}
}

func TestEngine_ActiveVUs(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.SetActiveVUs(10)
	if engine.GetActiveVUs() != 10 {
		t.Errorf("GetActiveVUs() = %d, want 10", engine.GetActiveVUs())
	}
	engine.SetActiveVUs(5)
	if engine.GetActiveVUs() != 5 {
		t.Errorf("GetActiveVUs() = %d, want 5", engine.GetActiveVUs())
	}
}

func TestEngine_Checks(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.AddCheck("status is 201", true)
	engine.AddCheck("response has id", true)
	engine.AddCheck("status is 201", false)

	checks := engine.GetCheckStats()
	require.Len(t, checks, 2)
	assert.Equal(t, CheckStats{Name: "status is 201", Passes: 1, Fails: 1}, checks[0])
	assert.Equal(t, CheckStats{Name: "response has id", Passes: 1, Fails: 0}, checks[1])

	rate := engine.GetSnapshot().Rates[MetricChecks]
	assert.Equal(t, int64(2), rate.Passes)
	assert.Equal(t, int64(1), rate.Fails)
	assert.InDelta(t, 2.0/3.0, rate.Rate, 1e-9)
}

func TestEngine_RateIsShared(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	a := engine.Rate(MetricErrors)
	b := engine.Rate(MetricErrors)
	assert.Same(t, a, b)

	a.Add(true)
	b.Add(false)
	assert.Equal(t, RateStats{Passes: 1, Fails: 1, Rate: 0.5}, engine.GetSnapshot().Rates[MetricErrors])
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	const workers = 32
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				engine.RecordLatency(time.Millisecond, "create", i%2 == 0, 10)
				engine.AddCheck("status is 201", i%4 != 0)
				engine.Rate(MetricErrors).Add(w%2 == 0)
				engine.RecordIteration()
			}
		}(w)
	}
	wg.Wait()

	snap := engine.GetSnapshot()
	total := int64(workers * perWorker)
	assert.Equal(t, total, snap.TotalRequests)
	assert.Equal(t, total, snap.Iterations)
	assert.Equal(t, total, snap.Rates[MetricChecks].Total())
	assert.Equal(t, total, snap.Rates[MetricErrors].Total())
	assert.Equal(t, total, engine.GetRequestStats()["create"].Count)

	checks := engine.GetCheckStats()
	require.Len(t, checks, 1)
	assert.Equal(t, total, checks[0].Passes+checks[0].Fails)
}

func TestEngine_Value(t *testing.T) {
	engine := NewEngine()

	for i := 1; i <= 100; i++ {
		engine.RecordLatency(time.Duration(i)*time.Millisecond, "create", i <= 90, 0)
	}
	engine.RecordLatency(500*time.Millisecond, "get", true, 0)
	engine.Rate(MetricErrors).Add(false)
	engine.Rate(MetricErrors).Add(true)
	engine.RecordIteration()
	engine.Stop()

	tests := []struct {
		metric, agg string
		want, delta float64
	}{
		{MetricHTTPReqDuration, "p(95)", 100, 5},
		{MetricHTTPReqDuration, "p95", 100, 5},
		{MetricHTTPReqDuration, "max", 500, 1},
		{MetricHTTPReqDuration, "min", 1, 0.01},
		{MetricHTTPReqDuration, "count", 101, 0},
		{MetricHTTPReqDuration + "{name:create}", "max", 100, 0.1},
		{MetricHTTPReqDuration + "{name:get}", "avg", 500, 1},
		{MetricHTTPReqFailed, "rate", 10.0 / 101.0, 1e-9},
		{MetricHTTPReqFailed, "count", 10, 0},
		{MetricHTTPReqs, "count", 101, 0},
		{MetricIterations, "count", 1, 0},
		{MetricErrors, "rate", 0.5, 1e-9},
		{MetricErrors, "passes", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.agg, func(t *testing.T) {
			got, err := engine.Value(tt.metric, tt.agg)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}

	_, err := engine.Value("nope", "rate")
	assert.Error(t, err)
	_, err = engine.Value(MetricHTTPReqDuration, "rate")
	assert.Error(t, err)
	_, err = engine.Value(MetricHTTPReqDuration+"{name:missing}", "max")
	assert.Error(t, err)
	_, err = engine.Value(MetricHTTPReqFailed+"{name:create}", "rate")
	assert.Error(t, err)
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	engine := NewEngine()
	engine.RecordLatency(time.Millisecond, "", true, 0)
	engine.Stop()
	engine.Stop()

	buckets := engine.GetTimeSeries()
	require.NotEmpty(t, buckets)
	assert.Equal(t, int64(1), buckets[len(buckets)-1].TotalRequests)

	first := engine.GetSnapshot().Elapsed
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, engine.GetSnapshot().Elapsed, "elapsed must freeze after Stop")
}

func TestParsePercentile(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"p(95)", 95, true},
		{"p(99.9)", 99.9, true},
		{"p90", 90, true},
		{"p(101)", 0, false},
		{"avg", 0, false},
		{"p()", 0, false},
	}
	for _, tt := range tests {
		got, ok := parsePercentile(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
