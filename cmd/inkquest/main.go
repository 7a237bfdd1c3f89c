// Package main is the inkquest command: the progression engine's HTTP API,
// its background worker and the operator tooling around them.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkquest/inkquest/config"
	"github.com/inkquest/inkquest/pkg/logger"
)

var (
	// Set by -ldflags at build time.
	version = "dev"

	logLevel string

	cfg *config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "inkquest",
	Short: "Experience, levels and achievements for the inkquest blog",
	Long: `inkquest awards experience points, derives levels from them and
evaluates the achievement catalog against each author's posts.

Configuration is read from the environment (and an optional .env file).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["config"] == "none" {
			log = logger.Setup(logLevel, "text")
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if version != "dev" {
			cfg.App.Version = version
		}

		level := cfg.Log.Level
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		log = logger.Setup(level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd, workerCmd)
	rootCmd.AddCommand(migrateCmd, seedCmd)
	rootCmd.AddCommand(evaluateCmd, awardCmd, resetCmd, runJobCmd)
	rootCmd.AddCommand(levelCmd, hashKeyCmd, featuresCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
