package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shroomp/shroomload/internal/backend"
)

func newServeCmd() *cobra.Command {
	cfg := backend.DefaultConfig()
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory sightings API",
		Long: `Serve an in-memory sightings API to run the load test against locally.

Failures and latency can be injected to exercise thresholds:
  shroomload serve --addr :8080 --failure-rate 0.05 --latency 150ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			srv, err := backend.NewServer(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving sightings API on %s\n", cfg.Addr)
			return srv.ListenAndServe(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "Address to listen on")
	f.StringVar(&cfg.DataFile, "data-file", "", "Persist items to this JSON file")
	f.Float64Var(&cfg.FailureRate, "failure-rate", 0, "Fraction of item requests answered with 500 (0-1)")
	f.DurationVar(&cfg.Latency, "latency", time.Duration(0), "Latency added to every item request")
	f.BoolVarP(&verbose, "verbose", "v", false, "Log every request on stderr")

	return cmd
}
