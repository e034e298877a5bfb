package health

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Render writes r to w as text, json or yaml.
func (r Report) Render(w io.Writer, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "text", "":
		return r.renderText(w)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func (r Report) renderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "status: %s\n", r.Status); err != nil {
		return err
	}
	if r.LastFallback != nil {
		if _, err := fmt.Fprintf(w, "last fallback: %s\n", r.LastFallback.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tBACKEND\tSTATUS\tLATENCY\tERROR")
	for _, c := range r.Components {
		msg := c.Error
		if c.ErrorKind != "" {
			msg = c.ErrorKind + ": " + msg
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Role, c.Backend, c.Status, c.Latency.Round(time.Millisecond), msg)
	}
	return tw.Flush()
}
