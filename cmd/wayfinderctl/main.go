// Command wayfinderctl is the operator CLI for the wayfinder verification
// engine: resolve identifiers, run verifications, and inspect gateway and
// cache state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wayfinder/internal/config"
	"wayfinder/internal/engine"
	"wayfinder/internal/logging"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalOpts holds options parsed before subcommand dispatch.
type globalOpts struct {
	ConfigPath string
	LogLevel   string
	JSON       bool
}

var opts globalOpts

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wayfinderctl",
		Short: "Verify permaweb content through gateway consensus",
		Long: `wayfinderctl - manifest-first content verification

Resolves names and content ids against a trusted gateway set, fetches
manifests and resources from routing gateways, and verifies every byte
against trusted digests before serving it from the local cache.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (toml, yaml, or json)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output as JSON")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newResolveCmd(),
		newVerifyCmd(),
		newGatewaysCmd(),
		newCacheCmd(),
	)

	return rootCmd
}

// loadConfig reads the configured (or default) configuration, with the
// command-line log level taking precedence.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	return cfg, nil
}

// newEngine builds an engine for a one-shot command invocation.
func newEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Output = "stderr"
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	eng, err := engine.New(cfg, engine.WithLogger(log.Logger))
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func main() {
	rootCmd := newRootCmd()
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
