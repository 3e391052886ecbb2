// Command lab is the CLI entry point for the beacon-chain analytics
// aggregation backend, built on github.com/spf13/cobra exactly like
// cmd/warren/main.go's root command, collapsed to this domain's single
// top-level Runner instead of warren's multi-component cluster bring-up.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethpandaops/lab/internal/config"
	"github.com/ethpandaops/lab/internal/corelog"
	"github.com/ethpandaops/lab/pkg/runner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	logger     zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lab",
	Short: "ethPandaOps lab beacon-chain analytics aggregation backend",
	Long: `lab continuously reads raw event tables from the analytics warehouse,
computes per-slot and per-window summaries, and publishes compact artifacts
to an object store from which a front-end reads them directly.`,
	RunE: runE,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable verbose logging")
	cobra.OnInitialize(initLogger)
}

func initLogger() {
	level := corelog.InfoLevel
	if debug {
		level = corelog.DebugLevel
	}
	logger = corelog.New(corelog.Config{Level: level})
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", configPath).Msg("failed to load configuration")
		return err
	}

	r := runner.New(cfg, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := r.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("runner exited with error")
		return err
	}
	return nil
}
