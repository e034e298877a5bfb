package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-tracker/internal/storage"
)

func newBlobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blobs",
		Short: "Inspect and clean up stored artifacts",
	}
	cmd.AddCommand(newBlobsExistsCmd(), newBlobsDeletePrefixCmd())
	return cmd
}

func newBlobsExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists LOCATION",
		Short: "Report whether an artifact exists, e.g. s3:scraped_sites/x/index.html",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := storage.ParseLocation(args[0])
			if err != nil {
				return err
			}
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.Blobs().Exists(cmd.Context(), loc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}

func newBlobsDeletePrefixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-prefix PREFIX",
		Short: "Delete every artifact under a path prefix on all configured backends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFrom(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := storage.DeletePrefix(cmd.Context(), a.Blobs(), args[0])
			e.logger.Info("Deleted artifacts", zap.String("prefix", args[0]), zap.Int("deleted", n), zap.Error(err))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d objects under %s\n", n, args[0])
			return err
		},
	}
}
