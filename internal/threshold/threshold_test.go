package threshold

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shroomp/shroomload/internal/metrics"
)

type fakeSource map[string]float64

func (f fakeSource) Value(metric, aggregation string) (float64, error) {
	v, ok := f[metric+"/"+aggregation]
	if !ok {
		return 0, fmt.Errorf("unknown metric: %s", metric)
	}
	return v, nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		metric, expr string
		agg, op      string
		value        float64
		wantErr      bool
	}{
		{"http_req_duration", "p(95)<2000", "p(95)", "<", 2000, false},
		{"http_req_duration", "p95 < 2s", "p95", "<", 2000, false},
		{"http_req_duration", "avg<=500ms", "avg", "<=", 500, false},
		{"http_req_duration", "p(99.9) < 1.5s", "p(99.9)", "<", 1500, false},
		{"http_req_duration{name:create}", "max<3000", "max", "<", 3000, false},
		{"http_req_duration", "count>10", "count", ">", 10, false},
		{"http_req_failed", "rate<0.1", "rate", "<", 0.1, false},
		{"http_reqs", "count >= 100", "count", ">=", 100, false},
		{"errors", "rate != 1", "rate", "!=", 1, false},
		{"http_req_failed", "rate<0.1s", "", "", 0, true},
		{"http_req_duration", "p95 < fast", "", "", 0, true},
		{"http_req_duration", "p95", "", "", 0, true},
		{"http_req_duration", "", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			th, err := Parse(tt.metric, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.agg, th.Aggregation)
			assert.Equal(t, tt.op, th.Op)
			assert.InDelta(t, tt.value, th.Value, 1e-9)
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		actual    float64
		op        string
		threshold float64
		want      bool
	}{
		{1, "<", 2, true},
		{2, "<", 2, false},
		{2, "<=", 2, true},
		{3, ">", 2, true},
		{2, ">=", 2, true},
		{2, "==", 2, true},
		{2, "=", 2, true},
		{2, "!=", 3, true},
		{2, "<>", 2, false},
		{2, "~", 2, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compare(tt.actual, tt.op, tt.threshold), "%v %s %v", tt.actual, tt.op, tt.threshold)
	}
}

func TestEvaluate(t *testing.T) {
	src := fakeSource{
		"http_req_duration/p(95)": 1800,
		"http_req_failed/rate":    0.15,
	}
	spec := map[string][]string{
		"http_req_failed":   {"rate<0.1"},
		"http_req_duration": {"p(95)<2000", "p(95)<1s"},
		"missing":           {"rate<1"},
		"broken":            {"nonsense"},
	}

	results := Evaluate(spec, src)
	require.Len(t, results, 5)

	// Metric name order, declaration order within a metric.
	assert.Equal(t, "broken", results[0].Metric)
	assert.False(t, results[0].Passed)
	assert.Contains(t, results[0].Message, "invalid expression")

	assert.Equal(t, "http_req_duration", results[1].Metric)
	assert.True(t, results[1].Passed)
	assert.Equal(t, "1800.00ms", results[1].Value)
	assert.False(t, results[2].Passed)
	assert.NotEmpty(t, results[2].Message)

	assert.Equal(t, "http_req_failed", results[3].Metric)
	assert.False(t, results[3].Passed)
	assert.Equal(t, "0.1500", results[3].Value)

	assert.Equal(t, "missing", results[4].Metric)
	assert.False(t, results[4].Passed)
	assert.Contains(t, results[4].Message, "unknown metric")

	assert.False(t, Passed(results))
	assert.True(t, Passed(nil))
}

func TestEvaluate_AgainstMetricsEngine(t *testing.T) {
	engine := metrics.NewEngine()
	for i := 0; i < 100; i++ {
		engine.RecordLatency(50*time.Millisecond, "create", i != 0, 0)
	}
	engine.Stop()

	results := Evaluate(map[string][]string{
		metrics.MetricHTTPReqDuration: {"p(95)<2000"},
		metrics.MetricHTTPReqFailed:   {"rate<0.1"},
	}, engine)

	require.Len(t, results, 2)
	assert.True(t, Passed(results), "%+v", results)
}
