package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/holon-run/xavier/pkg/config"
	holonlog "github.com/holon-run/xavier/pkg/log"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "xavier",
	Short: "Xavier applies AI-driven edits to cloned repositories and returns the diff.",
	Long: `Xavier runs a coding agent against a checkout of a repository and streams
back the staged diff. Follow-up requests that name a thread continue editing
the same checkout; threads idle for more than an hour are removed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, progress, minimal, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console, json")
}

// loadConfig resolves the configuration for cmd and initializes logging.
// apply, when non-nil, copies command flags over the loaded values.
func loadConfig(cmd *cobra.Command, apply func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if apply != nil {
		apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := cfg.Logger()
	logCfg.Output = cmd.ErrOrStderr()
	if err := holonlog.Init(logCfg); err != nil {
		return config.Config{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRequestFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func main() {
	code := run()
	_ = holonlog.Sync()
	os.Exit(code)
}
