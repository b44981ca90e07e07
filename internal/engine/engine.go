// Package engine wires configuration, workload, checks, executor and
// metrics into a single load test run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shroomp/shroomload/internal/check"
	"github.com/shroomp/shroomload/internal/config"
	"github.com/shroomp/shroomload/internal/executor"
	"github.com/shroomp/shroomload/internal/metrics"
	"github.com/shroomp/shroomload/internal/scenario"
	"github.com/shroomp/shroomload/internal/threshold"
	"github.com/shroomp/shroomload/internal/workload"
)

// ErrAlreadyRun is returned when Run is called on an engine that has
// already run. Metrics are per run, so an Engine is single use.
var ErrAlreadyRun = errors.New("engine has already run")

// Engine orchestrates one load test run.
//
// Example usage:
//
//	cfg, _ := config.Load("shroomload.yaml")
//	eng, _ := engine.New(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("passed: %v\n", result.Passed)
type Engine struct {
	config *config.Config
	logger *zap.Logger
	client *http.Client
	genOpt []workload.Option

	metricsEngine *metrics.Engine
	scenario      *scenario.Scenario
	executor      *executor.RampingVUs

	runID string

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHTTPClient replaces the client built from the http settings.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

// WithGeneratorOptions appends options to the workload generator, after
// the ones derived from configuration.
func WithGeneratorOptions(opts ...workload.Option) Option {
	return func(e *Engine) {
		e.genOpt = append(e.genOpt, opts...)
	}
}

// RequestStats contains statistics for one named request.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// Result contains the complete outcome of a run.
type Result struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	BaseURL   string        `json:"baseUrl"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	Checks     []metrics.CheckStats  `json:"checks"`
	Requests   []RequestStats        `json:"requests"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`

	Thresholds []threshold.Result `json:"thresholds"`
	Passed     bool               `json:"passed"`

	// Interrupted is set when the run was cancelled before its stages ended
	Interrupted bool `json:"interrupted,omitempty"`
}

// New validates cfg and builds every component of the run. Configuration
// problems, including empty workload catalogs, are reported here rather
// than during the run.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
		runID:  uuid.New().String(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("run", e.runID))

	gen, err := e.buildGenerator()
	if err != nil {
		return nil, err
	}

	if e.client == nil {
		e.client = scenario.NewHTTPClient(scenario.HTTPClientConfig{
			Timeout:             cfg.HTTP.Timeout,
			MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
			InsecureSkipVerify:  cfg.HTTP.InsecureSkipVerify,
		})
	}

	e.metricsEngine = metrics.NewEngine()

	sc, err := scenario.New(scenario.Options{
		BaseURL:         cfg.BaseURL,
		GetProbability:  cfg.Workload.GetProbability,
		ListProbability: cfg.Workload.ListProbability,
		MaxDuration:     cfg.Workload.MaxDuration,
		Headers:         cfg.HTTP.Headers,
		UserAgent:       cfg.HTTP.UserAgent,
	}, gen, check.NewEvaluator(e.metricsEngine), e.metricsEngine, e.client, e.logger)
	if err != nil {
		e.metricsEngine.Stop()
		return nil, err
	}
	e.scenario = sc

	exec, err := executor.NewRampingVUs(executorConfig(cfg), e.iterate, e.metricsEngine,
		executor.WithLogger(e.logger))
	if err != nil {
		e.metricsEngine.Stop()
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	e.executor = exec

	return e, nil
}

func (e *Engine) buildGenerator() (*workload.Generator, error) {
	w := e.config.Workload

	catalog := workload.DefaultCatalog()
	if len(w.Names) > 0 {
		catalog.Names = w.Names
	}
	if len(w.Locations) > 0 {
		catalog.Locations = w.Locations
	}
	if w.ImageDir != "" {
		images, err := workload.LoadImages(w.ImageDir)
		if err != nil {
			return nil, err
		}
		catalog.Images = images
	}

	opts := []workload.Option{workload.WithThinkTime(w.ThinkTimeMin, w.ThinkTimeMax)}
	if w.Seed != 0 {
		opts = append(opts, workload.WithSeed(w.Seed))
	}
	opts = append(opts, e.genOpt...)

	return workload.NewGenerator(catalog, opts...)
}

func executorConfig(cfg *config.Config) executor.Config {
	stages := make([]executor.Stage, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stages[i] = executor.Stage{Duration: s.Duration, Target: s.Target, Name: s.Name}
	}
	return executor.Config{Stages: stages, GracefulStop: cfg.GracefulStop}
}

func (e *Engine) iterate(ctx context.Context, vu *executor.VirtualUser) time.Duration {
	return e.scenario.Iterate(ctx, vu.ID)
}

// ID returns the unique identifier of this run.
func (e *Engine) ID() string {
	return e.runID
}

// Metrics returns the live metrics engine.
func (e *Engine) Metrics() *metrics.Engine {
	return e.metricsEngine
}

// Stats returns live executor statistics.
func (e *Engine) Stats() *executor.Stats {
	return e.executor.GetStats()
}

// Progress returns run progress from 0.0 to 1.0.
func (e *Engine) Progress() float64 {
	return e.executor.GetProgress()
}

// Stop ends the stage schedule early; in-flight iterations still get the
// graceful stop period.
func (e *Engine) Stop() {
	e.executor.Stop()
}

// Run executes all stages, then evaluates thresholds.
//
// Cancelling ctx aborts the run. The partial result is still returned,
// marked Interrupted, together with the context error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	e.started = true
	e.mu.Unlock()

	start := time.Now()
	e.logger.Info("starting load test",
		zap.String("name", e.config.Name),
		zap.String("baseUrl", e.config.BaseURL),
		zap.Int("stages", len(e.config.Stages)),
		zap.Int("maxVUs", e.config.MaxTarget()),
		zap.Duration("duration", e.config.TotalDuration()),
	)

	runErr := e.executor.Run(ctx)
	e.metricsEngine.Stop()
	end := time.Now()

	thresholds := threshold.Evaluate(e.config.Thresholds, e.metricsEngine)

	result := &Result{
		ID:          e.runID,
		Name:        e.config.Name,
		BaseURL:     e.config.BaseURL,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		Metrics:     e.metricsEngine.GetSnapshot(),
		Checks:      e.metricsEngine.GetCheckStats(),
		Requests:    e.requestStats(),
		TimeSeries:  e.metricsEngine.GetTimeSeries(),
		Thresholds:  thresholds,
		Passed:      threshold.Passed(thresholds),
		Interrupted: runErr != nil,
	}

	e.logger.Info("load test finished",
		zap.Bool("passed", result.Passed),
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Int64("iterations", result.Metrics.Iterations),
		zap.Duration("elapsed", result.Duration),
	)

	if runErr != nil {
		return result, fmt.Errorf("run interrupted: %w", runErr)
	}
	return result, nil
}

// requestStats orders requests the way an iteration issues them.
func (e *Engine) requestStats() []RequestStats {
	order := map[string]int{
		scenario.RequestCreate: 0,
		scenario.RequestGet:    1,
		scenario.RequestList:   2,
	}

	stats := e.metricsEngine.GetRequestStats()
	out := make([]RequestStats, 0, len(stats))
	for name, lat := range stats {
		out = append(out, RequestStats{Name: name, Count: lat.Count, Latency: lat})
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i].Name]
		oj, jok := order[out[j].Name]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return out[i].Name < out[j].Name
	})
	return out
}
