// Package config defines the load test configuration, its defaults and the
// layered loader (defaults, YAML file, environment).
//
// Example YAML:
//
//	name: sightings
//	baseUrl: http://localhost:8080
//	stages:
//	  - duration: 30s
//	    target: 5
//	  - duration: 1m
//	    target: 10
//	thresholds:
//	  http_req_duration: ["p(95)<2000"]
//	  http_req_failed: ["rate<0.1"]
//	workload:
//	  getProbability: 0.3
//	  listProbability: 0.2
package config

import (
	"time"
)

// DefaultBaseURL is the sightings API targeted when nothing else is set.
const DefaultBaseURL = "https://shroomp-backend-504769800087.europe-west3.run.app"

// Config is the root configuration for a load test run.
type Config struct {
	// Name of the run (for reporting)
	Name string `koanf:"name" yaml:"name" json:"name"`

	// BaseURL of the sightings API, without a trailing slash
	BaseURL string `koanf:"baseUrl" yaml:"baseUrl" json:"baseUrl"`

	// Stages describe the virtual-user ramp
	Stages []Stage `koanf:"stages" yaml:"stages" json:"stages"`

	// Thresholds map a metric to pass/fail expressions
	Thresholds map[string][]string `koanf:"thresholds" yaml:"thresholds" json:"thresholds"`

	// GracefulStop is how long to wait for in-flight iterations at the end
	GracefulStop time.Duration `koanf:"gracefulStop" yaml:"gracefulStop" json:"gracefulStop"`

	HTTP     HTTPSettings     `koanf:"http" yaml:"http" json:"http"`
	Workload WorkloadSettings `koanf:"workload" yaml:"workload" json:"workload"`
}

// Stage is one segment of the ramp: reach Target VUs over Duration.
type Stage struct {
	Duration time.Duration `koanf:"duration" yaml:"duration" json:"duration"`
	Target   int           `koanf:"target" yaml:"target" json:"target"`
	Name     string        `koanf:"name" yaml:"name,omitempty" json:"name,omitempty"`
}

// HTTPSettings configures the load generator's HTTP client.
type HTTPSettings struct {
	Timeout             time.Duration     `koanf:"timeout" yaml:"timeout" json:"timeout"`
	UserAgent           string            `koanf:"userAgent" yaml:"userAgent" json:"userAgent"`
	Headers             map[string]string `koanf:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
	InsecureSkipVerify  bool              `koanf:"insecureSkipVerify" yaml:"insecureSkipVerify" json:"insecureSkipVerify"`
	MaxIdleConnsPerHost int               `koanf:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost" json:"maxIdleConnsPerHost"`
}

// WorkloadSettings configures record generation and branch probabilities.
type WorkloadSettings struct {
	// GetProbability is the chance of reading back a created record
	GetProbability float64 `koanf:"getProbability" yaml:"getProbability" json:"getProbability"`

	// ListProbability is the chance of listing all records in an iteration
	ListProbability float64 `koanf:"listProbability" yaml:"listProbability" json:"listProbability"`

	ThinkTimeMin time.Duration `koanf:"thinkTimeMin" yaml:"thinkTimeMin" json:"thinkTimeMin"`
	ThinkTimeMax time.Duration `koanf:"thinkTimeMax" yaml:"thinkTimeMax" json:"thinkTimeMax"`

	// MaxDuration bounds the create latency check; 0 disables it
	MaxDuration time.Duration `koanf:"maxDuration" yaml:"maxDuration" json:"maxDuration"`

	// Seed makes runs reproducible when non-zero
	Seed uint64 `koanf:"seed" yaml:"seed" json:"seed"`

	// ImageDir, when set, replaces the built-in images with files from disk
	ImageDir string `koanf:"imageDir" yaml:"imageDir,omitempty" json:"imageDir,omitempty"`

	// Names and Locations replace the built-in catalogs when non-empty
	Names     []string `koanf:"names" yaml:"names,omitempty" json:"names,omitempty"`
	Locations []string `koanf:"locations" yaml:"locations,omitempty" json:"locations,omitempty"`
}

// Default returns the configuration used when no file or environment
// overrides are present. Collection fields are left empty; see ApplyDefaults.
func Default() *Config {
	return &Config{
		Name:         "sightings",
		BaseURL:      DefaultBaseURL,
		GracefulStop: 30 * time.Second,
		HTTP: HTTPSettings{
			Timeout:             30 * time.Second,
			UserAgent:           "shroomload/1.0",
			MaxIdleConnsPerHost: 100,
		},
		Workload: WorkloadSettings{
			GetProbability:  0.3,
			ListProbability: 0.2,
			ThinkTimeMin:    time.Second,
			ThinkTimeMax:    3 * time.Second,
			MaxDuration:     2 * time.Second,
		},
	}
}

// DefaultStages returns the ramp used when none is configured.
func DefaultStages() []Stage {
	return []Stage{
		{Duration: 30 * time.Second, Target: 5, Name: "warm-up"},
		{Duration: time.Minute, Target: 10, Name: "ramp-up"},
		{Duration: 2 * time.Minute, Target: 10, Name: "steady"},
		{Duration: 30 * time.Second, Target: 20, Name: "spike"},
		{Duration: time.Minute, Target: 20, Name: "peak"},
		{Duration: 30 * time.Second, Target: 0, Name: "ramp-down"},
	}
}

// DefaultThresholds returns the pass/fail criteria used when none are configured.
func DefaultThresholds() map[string][]string {
	return map[string][]string{
		"http_req_duration": {"p(95)<2000"},
		"http_req_failed":   {"rate<0.1"},
	}
}

// ApplyDefaults fills empty collection fields. Collections are defaulted
// here rather than in Default so a configured list replaces the default
// instead of being merged into it.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Stages) == 0 {
		cfg.Stages = DefaultStages()
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Name == "" {
		cfg.Name = "sightings"
	}
}

// TotalDuration is the sum of all stage durations.
func (c *Config) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range c.Stages {
		total += s.Duration
	}
	return total
}

// MaxTarget is the highest VU target across all stages.
func (c *Config) MaxTarget() int {
	maxVUs := 0
	for _, s := range c.Stages {
		if s.Target > maxVUs {
			maxVUs = s.Target
		}
	}
	return maxVUs
}
