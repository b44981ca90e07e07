package check

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Recorder accumulates check outcomes. metrics.Engine and metrics.Rate
// both satisfy it.
type Recorder interface {
	AddCheck(name string, passed bool)
}

// Evaluator applies checks to responses.
//
// Evaluator holds no mutable state of its own; concurrent use is safe as
// long as the Recorder is.
type Evaluator struct {
	rec Recorder
}

// NewEvaluator creates an evaluator recording into rec. A nil recorder
// discards outcomes.
func NewEvaluator(rec Recorder) *Evaluator {
	return &Evaluator{rec: rec}
}

// Evaluate applies each check to resp and returns one result per check in
// order. Every result is recorded before Evaluate returns.
//
// A transport failure fails every check. A body that is not valid JSON
// fails every check that inspects the body; other checks still run.
func (e *Evaluator) Evaluate(resp Response, checks []Check) []Result {
	results := make([]Result, len(checks))

	validBody := resp.Err == nil && gjson.ValidBytes(resp.Body)

	for i, c := range checks {
		passed := false
		switch {
		case resp.Err != nil:
		case c.needsBody() && !validBody:
		default:
			passed = apply(c, resp)
		}

		results[i] = Result{Name: c.Name, Passed: passed}
		if e.rec != nil {
			e.rec.AddCheck(c.Name, passed)
		}
	}

	return results
}

func apply(c Check, resp Response) bool {
	switch c.Kind {
	case KindStatus:
		return resp.Status == c.Status

	case KindLatencyBelow:
		return resp.Duration < c.MaxDuration

	case KindHasField:
		return gjson.GetBytes(resp.Body, c.Field).Exists()

	case KindFieldEquals:
		v := gjson.GetBytes(resp.Body, c.Field)
		return v.Exists() && v.String() == c.Expected

	case KindIsArray:
		return gjson.ParseBytes(resp.Body).IsArray()

	case KindSchema:
		if c.Schema == nil {
			return false
		}
		dec := json.NewDecoder(bytes.NewReader(resp.Body))
		dec.UseNumber()
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			return false
		}
		return c.Schema.Validate(doc) == nil
	}

	return false
}
