// Package threshold parses and evaluates pass/fail criteria over aggregate
// run metrics.
//
// An expression has the form "<aggregation> <op> <value>", for example
// "p(95)<2000", "p95 < 2s", "avg<500ms", "rate<0.1" or "count>100".
// Values on duration metrics are milliseconds unless they carry a unit.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DurationMetric is the metric whose values are latencies.
const DurationMetric = "http_req_duration"

var exprPattern = regexp.MustCompile(`^([\w().]+)\s*(<=|>=|==|!=|<>|<|>|=)\s*(.+)$`)

// Source resolves an aggregated metric value. metrics.Engine implements it.
type Source interface {
	Value(metric, aggregation string) (float64, error)
}

// Threshold is a parsed expression bound to a metric.
type Threshold struct {
	Metric      string
	Expression  string
	Aggregation string
	Op          string
	Value       float64
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// Parse parses expr as a threshold on metric.
func Parse(metric, expr string) (Threshold, error) {
	t := Threshold{Metric: metric, Expression: expr}

	matches := exprPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return t, fmt.Errorf("invalid expression format: %s", expr)
	}
	t.Aggregation, t.Op = matches[1], matches[2]
	raw := strings.TrimSpace(matches[3])

	if isDuration(metric) && t.Aggregation != "count" {
		v, err := parseMillis(raw)
		if err != nil {
			return t, fmt.Errorf("invalid threshold value %q: %w", raw, err)
		}
		t.Value = v
		return t, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return t, fmt.Errorf("invalid threshold value %q: %w", raw, err)
	}
	t.Value = v
	return t, nil
}

// Check evaluates the threshold against src.
func (t Threshold) Check(src Source) Result {
	result := Result{Metric: t.Metric, Expression: t.Expression}

	actual, err := src.Value(t.Metric, t.Aggregation)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	result.Value = t.format(actual)
	result.Passed = compare(actual, t.Op, t.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s %s is %s, threshold: %s %s",
			t.Metric, t.Aggregation, result.Value, t.Op, t.format(t.Value))
	}
	return result
}

func (t Threshold) format(v float64) string {
	if isDuration(t.Metric) && t.Aggregation != "count" {
		return fmt.Sprintf("%.2fms", v)
	}
	if t.Aggregation == "count" || t.Aggregation == "passes" || t.Aggregation == "fails" {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprintf("%.4f", v)
}

// Evaluate evaluates every expression in spec. Metrics are visited in
// name order and expressions in declaration order. Expressions that fail
// to parse produce a failed result rather than an error.
func Evaluate(spec map[string][]string, src Source) []Result {
	metrics := make([]string, 0, len(spec))
	for m := range spec {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var results []Result
	for _, m := range metrics {
		for _, expr := range spec[m] {
			t, err := Parse(m, expr)
			if err != nil {
				results = append(results, Result{Metric: m, Expression: expr, Message: err.Error()})
				continue
			}
			results = append(results, t.Check(src))
		}
	}
	return results
}

// Passed reports whether all results passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func isDuration(metric string) bool {
	name, _, _ := strings.Cut(metric, "{")
	return name == DurationMetric
}

// parseMillis accepts a bare number of milliseconds or a Go duration.
func parseMillis(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

func compare(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
