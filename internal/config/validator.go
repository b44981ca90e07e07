package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shroomp/shroomload/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, stage := range c.Stages {
		validateStage(fmt.Sprintf("stages[%d]", i), &stage, errs)
	}

	for metric, exprs := range c.Thresholds {
		for i, expr := range exprs {
			if _, err := threshold.Parse(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}

	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "gracefulStop cannot be negative")
	}

	validateHTTP(&c.HTTP, errs)
	validateWorkload(&c.Workload, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}

	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", fmt.Sprintf("unsupported scheme %q, expected http or https", u.Scheme))
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateStage(prefix string, stage *Stage, errs *ValidationErrors) {
	if stage.Duration <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validateHTTP(h *HTTPSettings, errs *ValidationErrors) {
	if h.Timeout <= 0 {
		errs.Add("http.timeout", "timeout must be greater than 0")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}

func validateWorkload(w *WorkloadSettings, errs *ValidationErrors) {
	if w.GetProbability < 0 || w.GetProbability > 1 {
		errs.Add("workload.getProbability", "probability must be between 0 and 1")
	}
	if w.ListProbability < 0 || w.ListProbability > 1 {
		errs.Add("workload.listProbability", "probability must be between 0 and 1")
	}
	if w.ThinkTimeMin < 0 {
		errs.Add("workload.thinkTimeMin", "thinkTimeMin cannot be negative")
	}
	if w.ThinkTimeMax < w.ThinkTimeMin {
		errs.Add("workload.thinkTimeMax", "thinkTimeMax must be greater than or equal to thinkTimeMin")
	}
	if w.MaxDuration < 0 {
		errs.Add("workload.maxDuration", "maxDuration cannot be negative")
	}
}
