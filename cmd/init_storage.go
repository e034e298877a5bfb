package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/app"
	"github.com/JakeFAU/site-tracker/internal/config"
)

func newInitStorageCmd() *cobra.Command {
	var both bool

	cmd := &cobra.Command{
		Use:   "init-storage",
		Short: "Create the record schema and blob directories",
		Long: `init-storage applies the PostgreSQL migrations or creates the DynamoDB
table for the configured record backend, then verifies the blob store.
With --both, both record backends are prepared, which is what a migration needs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			cfg := e.cfg
			cfg.Postgres.MigrateOnStart = true
			cfg.Dynamo.CreateTable = true

			if both {
				other := config.RecordsNoSQL
				if cfg.Records.Backend == config.RecordsNoSQL {
					other = config.RecordsRelational
				}
				if err := prepareRecords(cmd, cfg, other, e.logger); err != nil {
					return err
				}
			}

			a, err := buildApp(cmd.Context(), cfg, e.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Blobs().Ping(cmd.Context()); err != nil {
				return fmt.Errorf("blob store %s: %w", a.Blobs().Backend(), err)
			}
			e.logger.Info("Storage initialized",
				zap.String("records", a.RecordBackend()),
				zap.String("blobs", a.Blobs().Backend()),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "records: %s ready\nblobs: %s ready\n", a.RecordBackend(), a.Blobs().Backend())
			return nil
		},
	}
	cmd.Flags().BoolVar(&both, "both", false, "prepare PostgreSQL and DynamoDB regardless of records.backend")
	return cmd
}

// prepareRecords opens the named record backend once, which migrates or
// creates its schema, and closes it again.
func prepareRecords(cmd *cobra.Command, cfg config.Config, backend string, logger *zap.Logger) error {
	switch backend {
	case config.RecordsRelational:
		s, err := app.OpenPostgres(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("prepare postgres: %w", err)
		}
		s.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "records: postgres ready")
	case config.RecordsNoSQL:
		s, err := app.OpenDynamo(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("prepare dynamodb: %w", err)
		}
		s.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "records: dynamodb ready")
	}
	return nil
}
