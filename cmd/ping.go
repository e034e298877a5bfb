package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-tracker/internal/health"
)

func newPingCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check every configured storage backend once",
		Long:  "ping runs one health check and prints it. It exits non-zero when the storage layer is unhealthy.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(output); err != nil {
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

			report := a.Checker().Check(cmd.Context())
			if err := report.Render(cmd.OutOrStdout(), output); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return fmt.Errorf("storage is %s", report.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}
