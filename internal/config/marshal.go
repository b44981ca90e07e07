package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// yamlStage and yamlConfig mirror Config with durations rendered as
// strings, since yaml.v3 encodes time.Duration as nanoseconds.
type yamlStage struct {
	Duration string `yaml:"duration"`
	Target   int    `yaml:"target"`
	Name     string `yaml:"name,omitempty"`
}

type yamlHTTP struct {
	Timeout             string            `yaml:"timeout"`
	UserAgent           string            `yaml:"userAgent"`
	Headers             map[string]string `yaml:"headers,omitempty"`
	InsecureSkipVerify  bool              `yaml:"insecureSkipVerify"`
	MaxIdleConnsPerHost int               `yaml:"maxIdleConnsPerHost"`
}

type yamlWorkload struct {
	GetProbability  float64  `yaml:"getProbability"`
	ListProbability float64  `yaml:"listProbability"`
	ThinkTimeMin    string   `yaml:"thinkTimeMin"`
	ThinkTimeMax    string   `yaml:"thinkTimeMax"`
	MaxDuration     string   `yaml:"maxDuration"`
	Seed            uint64   `yaml:"seed"`
	ImageDir        string   `yaml:"imageDir,omitempty"`
	Names           []string `yaml:"names,omitempty"`
	Locations       []string `yaml:"locations,omitempty"`
}

type yamlConfig struct {
	Name         string              `yaml:"name"`
	BaseURL      string              `yaml:"baseUrl"`
	Stages       []yamlStage         `yaml:"stages"`
	Thresholds   map[string][]string `yaml:"thresholds"`
	GracefulStop string              `yaml:"gracefulStop"`
	HTTP         yamlHTTP            `yaml:"http"`
	Workload     yamlWorkload        `yaml:"workload"`
}

// ToYAML renders the configuration in the same shape Load reads.
func (c *Config) ToYAML() ([]byte, error) {
	dur := func(d time.Duration) string { return d.String() }

	out := yamlConfig{
		Name:         c.Name,
		BaseURL:      c.BaseURL,
		Thresholds:   c.Thresholds,
		GracefulStop: dur(c.GracefulStop),
		HTTP: yamlHTTP{
			Timeout:             dur(c.HTTP.Timeout),
			UserAgent:           c.HTTP.UserAgent,
			Headers:             c.HTTP.Headers,
			InsecureSkipVerify:  c.HTTP.InsecureSkipVerify,
			MaxIdleConnsPerHost: c.HTTP.MaxIdleConnsPerHost,
		},
		Workload: yamlWorkload{
			GetProbability:  c.Workload.GetProbability,
			ListProbability: c.Workload.ListProbability,
			ThinkTimeMin:    dur(c.Workload.ThinkTimeMin),
			ThinkTimeMax:    dur(c.Workload.ThinkTimeMax),
			MaxDuration:     dur(c.Workload.MaxDuration),
			Seed:            c.Workload.Seed,
			ImageDir:        c.Workload.ImageDir,
			Names:           c.Workload.Names,
			Locations:       c.Workload.Locations,
		},
	}
	for _, s := range c.Stages {
		out.Stages = append(out.Stages, yamlStage{Duration: dur(s.Duration), Target: s.Target, Name: s.Name})
	}

	return yaml.Marshal(out)
}
