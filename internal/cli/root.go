// Package cli implements the shroomload command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time.
var Version = "dev"

// ErrThresholdsFailed is returned by `run` when at least one threshold failed.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

// Exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shroomload",
		Short: "Load testing for the mushroom sightings API",
		Long: `shroomload generates synthetic mushroom sighting traffic against a
sightings API. Virtual users ramp up and down through configured stages,
every response is checked, and the run passes or fails on thresholds.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the root command with os.Args and returns the exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, ErrThresholdsFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrThresholdsFailed):
		return ExitThresholdsFailed
	default:
		return ExitError
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "shroomload version %s\n", Version)
		},
	}
}

// newLogger builds the process logger. Logs go to stderr so they never mix
// with the report on stdout. Only warnings and errors are logged unless
// verbose is set.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.Sampling = nil
	return cfg.Build()
}
