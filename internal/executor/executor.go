// Package executor drives virtual users through a staged ramp.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultGracefulStop is how long in-flight iterations may run after the
// last stage ends when Config.GracefulStop is zero.
const DefaultGracefulStop = 30 * time.Second

// ErrAlreadyRunning is returned by Run when the executor is already running.
var ErrAlreadyRunning = errors.New("executor is already running")

// IterationFunc runs one iteration for vu and returns how long the VU
// should pause before the next one.
type IterationFunc func(ctx context.Context, vu *VirtualUser) time.Duration

// Stage defines one segment of the ramp.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Config contains configuration for the ramping executor.
type Config struct {
	Stages []Stage `json:"stages" yaml:"stages"`

	// Graceful stop timeout
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	for i, s := range c.Stages {
		if s.Duration <= 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].duration", i), Message: "duration must be > 0"}
		}
		if s.Target < 0 {
			return &ValidationError{Field: fmt.Sprintf("stages[%d].target", i), Message: "target must be >= 0"}
		}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	return nil
}

// TotalDuration is the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range c.Stages {
		total += stage.Duration
	}
	return total
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`

	// Stage info
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
