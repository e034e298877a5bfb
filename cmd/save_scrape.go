package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-tracker/internal/artifact"
	"github.com/JakeFAU/site-tracker/internal/storage"
)

func newSaveScrapeCmd() *cobra.Command {
	var (
		projectID string
		domain    string
	)

	cmd := &cobra.Command{
		Use:   "save-scrape FILE",
		Short: "Store a scrape bundle read from a JSON file (- for stdin)",
		Long: `save-scrape writes the html, css, js, links, metadata and seo_report of a
scrape as separate blobs under scraped_sites/. With --project the bundle
directory and crawl time are recorded on the project.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (projectID == "") == (domain == "") {
				return errors.New("exactly one of --project or --domain is required")
			}
			scrape, err := readScrape(cmd, args[0])
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

			var res artifact.Result
			if projectID != "" {
				res, err = a.Artifacts().SaveForProject(cmd.Context(), projectID, scrape)
			} else {
				res, err = a.Artifacts().Save(cmd.Context(), domain, scrape)
			}
			for _, loc := range res.Locations {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tsha256:%s\n", loc, res.Digests[loc.Path])
			}
			return err
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id that owns the scrape")
	cmd.Flags().StringVar(&domain, "domain", "", "domain to file the scrape under when no project is given")
	return cmd
}

func readScrape(cmd *cobra.Command, path string) (storage.Scrape, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return storage.Scrape{}, fmt.Errorf("open scrape: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var scrape storage.Scrape
	if err := json.NewDecoder(r).Decode(&scrape); err != nil {
		return storage.Scrape{}, fmt.Errorf("decode scrape: %w", err)
	}
	return scrape, nil
}
