package cmd

import (
	"fmt"

	"github.com/banshee-data/mrsync/internal/config"
	"github.com/banshee-data/mrsync/internal/monitoring"
	"github.com/spf13/cobra"
)

var logf = monitoring.Tagged("mrctl")

var rootCmd = &cobra.Command{
	Use:   "mrctl",
	Short: "Drive and inspect mixed-reality tracking sessions",
	Long: `mrctl runs a tracking session against the simulated tracker, optionally
recording every plane, image and anchor event to SQLite, and renders
reports from those recordings.`,
	SilenceUsage: true,
}

var configPath string // --config

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "session config JSON (default: built-in defaults)")
}

// loadConfig reads --config when given and overlays MRSYNC_* variables.
func loadConfig() (*config.SessionConfig, error) {
	cfg := config.EmptySessionConfig()
	if configPath != "" {
		loaded, err := config.LoadSessionConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
