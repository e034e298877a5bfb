package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/app"
	"github.com/JakeFAU/site-tracker/internal/clock/system"
	"github.com/JakeFAU/site-tracker/internal/migration"
	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/retry"
)

type migrateFlags struct {
	dryRun    bool
	output    string
	batchSize int
	kinds     []string
}

func newMigrateCmd() *cobra.Command {
	var f migrateFlags

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every record from PostgreSQL into DynamoDB",
		Long: `migrate reads users, projects and their children from PostgreSQL and
writes them into the DynamoDB table, parents before children. Writes are
idempotent, so an interrupted run can simply be repeated. The command exits
non-zero when any record failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(f.output); err != nil {
				return err
			}
			kinds, err := parseKinds(f.kinds)
			if err != nil {
				return err
			}
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			cfg := e.cfg
			batch := cfg.Migration.BatchSize
			if cmd.Flags().Changed("batch-size") {
				batch = f.batchSize
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			flush, err := app.InitTracing(ctx, cfg, e.logger)
			if err != nil {
				return err
			}
			defer flush()

			source, err := app.OpenPostgres(ctx, cfg, e.logger)
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer source.Close()

			var target migration.Target
			if !f.dryRun {
				dyn, err := app.OpenDynamo(ctx, cfg, e.logger)
				if err != nil {
					return fmt.Errorf("open target: %w", err)
				}
				defer dyn.Close()
				target = dyn
			}

			engine, err := migration.New(source, target, migration.Options{
				DryRun:    f.dryRun,
				BatchSize: batch,
				Retry:     retry.NewPolicy(cfg.Migration.MaxAttempts, 0, 0),
				Kinds:     kinds,
			}, system.New(), e.logger)
			if err != nil {
				return err
			}

			report, runErr := engine.Run(ctx)
			if report != nil {
				if err := report.Render(cmd.OutOrStdout(), f.output); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Failed() > 0 || report.Incomplete() {
				e.logger.Warn("Migration incomplete",
					zap.Int("failed", report.Failed()),
					zap.Bool("source_error", report.Incomplete()),
				)
				return fmt.Errorf("migration incomplete: %d of %d records failed", report.Failed(), report.Attempted())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "translate and validate every record without writing")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "report format: text, json or yaml")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", migration.DefaultBatchSize, "records read from PostgreSQL per page")
	cmd.Flags().StringSliceVar(&f.kinds, "kind", nil, "limit the run to these entity kinds (repeatable)")
	return cmd
}

func parseKinds(raw []string) ([]model.Kind, error) {
	kinds := make([]model.Kind, 0, len(raw))
	for _, r := range raw {
		k := model.Kind(r)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown kind %q (want one of %v)", r, model.Kinds)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
