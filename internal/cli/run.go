package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shroomp/shroomload/internal/config"
	"github.com/shroomp/shroomload/internal/engine"
	"github.com/shroomp/shroomload/internal/metrics"
	"github.com/shroomp/shroomload/internal/output"
)

type runOptions struct {
	configFile       string
	baseURL          string
	stages           string
	seed             uint64
	jsonOutput       bool
	outputPath       string
	quiet            bool
	noColor          bool
	metricsAddr      string
	verbose          bool
	progressInterval time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the load test",
		Long: `Run the sightings load test.

Each virtual user repeatedly creates a sighting, reads it back with
probability workload.getProbability, lists all sightings with probability
workload.listProbability and then pauses for a random think time.

The command exits with status 99 when a threshold fails and 1 on any
other error.

Examples:
  shroomload run
  shroomload run --config load.yaml
  shroomload run --base-url http://localhost:8080 --stages "10s:5,30s:5,10s:0"
  shroomload run --json --output results/run.json --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML configuration file")
	f.StringVar(&opts.baseURL, "base-url", "", "Base URL of the sightings API (overrides config and environment)")
	f.StringVar(&opts.stages, "stages", "", `Stages as duration:target pairs, e.g. "30s:5,1m:10,30s:0"`)
	f.Uint64Var(&opts.seed, "seed", 0, "Seed for reproducible workloads (0 = random)")
	f.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON instead of the console summary")
	f.StringVarP(&opts.outputPath, "output", "o", "", "Write the JSON result to this file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print PASSED or FAILED")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9464")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	f.DurationVar(&opts.progressInterval, "progress-interval", time.Second, "Interval between progress updates")

	return cmd
}

// loadConfig loads the layered configuration and applies command line
// overrides, which take precedence over everything else.
func loadConfig(path, baseURL, stages string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if stages != "" {
		parsed, err := config.ParseStages(stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = parsed
	}
	return cfg, nil
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(opts.configFile, opts.baseURL, opts.stages)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Workload.Seed = opts.seed
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		shutdown := serveMetrics(opts.metricsAddr, eng.Metrics(), logger)
		defer shutdown()
	}

	out := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  out,
		NoColor: opts.noColor,
		Quiet:   opts.quiet || opts.jsonOutput,
	})

	console.PrintHeader(output.Header{
		Name:     cfg.Name,
		BaseURL:  cfg.BaseURL,
		Stages:   len(cfg.Stages),
		MaxVUs:   cfg.MaxTarget(),
		Duration: cfg.TotalDuration(),
	})

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng, opts.progressInterval)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Warn("run interrupted", zap.Error(runErr))
	}

	if opts.jsonOutput {
		if err := output.WriteJSON(out, result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if opts.outputPath != "" {
		if err := output.WriteJSONFile(opts.outputPath, result); err != nil {
			return err
		}
		if !opts.quiet && !opts.jsonOutput {
			fmt.Fprintf(out, "Results written to %s\n", opts.outputPath)
		}
	}

	if !result.Passed {
		return ErrThresholdsFailed
	}
	if runErr != nil {
		return runErr
	}
	return nil
}

// serveMetrics exposes m on addr/metrics and returns a shutdown function.
func serveMetrics(addr string, m *metrics.Engine, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.NewRegistry(m), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
