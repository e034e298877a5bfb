// Package cmd implements the strata command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/app"
	"github.com/JakeFAU/site-tracker/internal/config"
	"github.com/JakeFAU/site-tracker/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand receives from the root command.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// buildApp is the application factory. It's a variable so tests can swap it.
var buildApp = app.Build

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "Storage layer for the site tracker.",
		Long: `strata manages the site tracker's storage: scrape artifacts on S3, GCS
or local disk, and records on PostgreSQL or DynamoDB. It serves health checks,
prepares backends and migrates records from PostgreSQL to DynamoDB.`,
		SilenceUsage: true,

		// Runs before every subcommand. Loads config and builds the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKey).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults plus STRATA_* environment when empty)")

	cmd.AddCommand(
		newServeCmd(),
		newPingCmd(),
		newInitStorageCmd(),
		newMigrateCmd(),
		newSaveScrapeCmd(),
		newBlobsCmd(),
	)
	return cmd
}

// envFrom returns the environment stored by the root command.
func envFrom(cmd *cobra.Command) (*env, error) {
	e, ok := cmd.Context().Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
