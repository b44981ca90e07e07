package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var configFile, baseURL, stages string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration a run would use after merging defaults, the
config file, environment variables and flags. Invalid configuration is
reported and the command fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, baseURL, stages)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "Path to a YAML configuration file")
	f.StringVar(&baseURL, "base-url", "", "Base URL of the sightings API")
	f.StringVar(&stages, "stages", "", `Stages as duration:target pairs, e.g. "30s:5,1m:10,30s:0"`)

	return cmd
}
