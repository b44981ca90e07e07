package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g.
// SHROOMLOAD_BASEURL or SHROOMLOAD_WORKLOAD__GETPROBABILITY.
const EnvPrefix = "SHROOMLOAD_"

// envKeys maps lower-cased koanf paths to their canonical spelling so
// environment overrides land on the same key as the YAML file.
var envKeys = func() map[string]string {
	keys := []string{
		"name",
		"baseUrl",
		"gracefulStop",
		"http.timeout",
		"http.userAgent",
		"http.insecureSkipVerify",
		"http.maxIdleConnsPerHost",
		"workload.getProbability",
		"workload.listProbability",
		"workload.thinkTimeMin",
		"workload.thinkTimeMax",
		"workload.maxDuration",
		"workload.seed",
		"workload.imageDir",
	}
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = k
	}
	return m
}()

// Load builds a Config by layering, lowest precedence first:
//  1. Default()
//  2. the YAML file at path, if path is non-empty
//  3. SHROOMLOAD_* environment variables ("__" separates nested keys)
//  4. BASE_URL, for compatibility with existing run scripts
//
// Collection defaults are applied after unmarshalling. The result is not
// validated; call Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Empty values and unknown keys are skipped.
	envProvider := env.ProviderWithValue(EnvPrefix, ".", func(s, v string) (string, interface{}) {
		if v == "" {
			return "", nil
		}
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		return envKeys[key], v
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if v := os.Getenv("BASE_URL"); v != "" {
		if err := k.Set("baseUrl", v); err != nil {
			return nil, fmt.Errorf("failed to apply BASE_URL: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	ApplyDefaults(cfg)

	return cfg, nil
}

// ParseStages parses a compact stage list such as "30s:5,1m:10,30s:0".
func ParseStages(s string) ([]Stage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty stage list")
	}

	var stages []Stage
	for i, part := range strings.Split(s, ",") {
		durStr, targetStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected <duration>:<target>, got %q", i, part)
		}

		d, err := time.ParseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration: %w", i, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target: %w", i, err)
		}

		stages = append(stages, Stage{Duration: d, Target: target})
	}
	return stages, nil
}
