// Package check evaluates named assertions against HTTP responses and
// records each outcome into an aggregate rate metric.
package check

import (
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind identifies the predicate a Check applies.
type Kind string

const (
	KindStatus       Kind = "status"
	KindHasField     Kind = "has-field"
	KindFieldEquals  Kind = "field-equals"
	KindLatencyBelow Kind = "latency-below"
	KindIsArray      Kind = "is-array"
	KindSchema       Kind = "schema"
)

// Check is a single named assertion.
//
// Which fields are consulted depends on Kind:
//
//	status:        Status
//	has-field:     Field (gjson path)
//	field-equals:  Field, Expected
//	latency-below: MaxDuration
//	is-array:      (none)
//	schema:        Schema
type Check struct {
	Name        string
	Kind        Kind
	Status      int
	Field       string
	Expected    string
	MaxDuration time.Duration
	Schema      *jsonschema.Schema
}

// needsBody reports whether the check inspects the decoded body.
func (c Check) needsBody() bool {
	switch c.Kind {
	case KindHasField, KindFieldEquals, KindIsArray, KindSchema:
		return true
	}
	return false
}

// Response is what the evaluator sees of a completed request.
// Err is set for transport failures, in which case Status is 0.
type Response struct {
	Status   int
	Body     []byte
	Duration time.Duration
	Err      error
}

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Passed reports whether every result passed. An empty slice passes.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Check names used by the sightings workload.
const (
	NameCreateStatus  = "status is 201"
	NameCreateHasID   = "response has id"
	NameCreateLatency = "response time < 2s"
	NameGetStatus     = "get status is 200"
	NameGetMatchesID  = "get returns correct id"
	NameListStatus    = "list status is 200"
	NameListIsArray   = "list returns array"
)

// CreateChecks returns the checks applied to POST /items responses.
// The latency check is only included when maxDuration is positive.
func CreateChecks(maxDuration time.Duration) []Check {
	checks := []Check{
		{Name: NameCreateStatus, Kind: KindStatus, Status: 201},
		{Name: NameCreateHasID, Kind: KindHasField, Field: "id"},
	}
	if maxDuration > 0 {
		name := NameCreateLatency
		if maxDuration != 2*time.Second {
			name = fmt.Sprintf("response time < %s", maxDuration)
		}
		checks = append(checks, Check{Name: name, Kind: KindLatencyBelow, MaxDuration: maxDuration})
	}
	return checks
}

// GetChecks returns the checks applied to GET /items/{id} responses.
func GetChecks(id string) []Check {
	return []Check{
		{Name: NameGetStatus, Kind: KindStatus, Status: 200},
		{Name: NameGetMatchesID, Kind: KindFieldEquals, Field: "id", Expected: id},
	}
}

// ListChecks returns the checks applied to GET /items responses.
func ListChecks() []Check {
	return []Check{
		{Name: NameListStatus, Kind: KindStatus, Status: 200},
		{Name: NameListIsArray, Kind: KindIsArray},
	}
}

// CompileSchema builds a schema conformance check from a JSON Schema document.
func CompileSchema(name, schema string) (Check, error) {
	compiler := jsonschema.NewCompiler()

	resource := "schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(schema)); err != nil {
		return Check{}, fmt.Errorf("invalid schema for check %q: %w", name, err)
	}

	compiled, err := compiler.Compile(resource)
	if err != nil {
		return Check{}, fmt.Errorf("invalid schema for check %q: %w", name, err)
	}

	return Check{Name: name, Kind: KindSchema, Schema: compiled}, nil
}
