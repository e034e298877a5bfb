package migration

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/site-tracker/internal/model"
	"github.com/JakeFAU/site-tracker/internal/store"
)

// Report summarizes a run.
type Report struct {
	DryRun     bool                        `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time                   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time                   `json:"finished_at" yaml:"finished_at"`
	Kinds      map[model.Kind]*KindReport `json:"kinds" yaml:"kinds"`
}

// KindReport holds the counters of one kind.
type KindReport struct {
	Attempted int       `json:"attempted" yaml:"attempted"`
	Succeeded int       `json:"succeeded" yaml:"succeeded"`
	Failed    int       `json:"failed" yaml:"failed"`
	Failures  []Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	// Planned lists the keys a dry run would have written.
	Planned []Key `json:"planned,omitempty" yaml:"planned,omitempty"`
	// Err is set when reading the source for this kind failed part way.
	Err string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failure describes one entity that could not be migrated.
type Failure struct {
	ID    string          `json:"id" yaml:"id"`
	Kind  store.ErrorKind `json:"kind" yaml:"kind"`
	Error string          `json:"error" yaml:"error"`
}

// Key is a target primary key.
type Key struct {
	PK string `json:"pk" yaml:"pk"`
	SK string `json:"sk" yaml:"sk"`
}

func newReport(dryRun bool, started time.Time) *Report {
	return &Report{
		DryRun:    dryRun,
		StartedAt: started,
		Kinds:     make(map[model.Kind]*KindReport),
	}
}

// Attempted is the number of entities read from the source.
func (r *Report) Attempted() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Attempted
	}
	return n
}

// Failed is the number of entities that were not migrated.
func (r *Report) Failed() int {
	n := 0
	for _, k := range r.Kinds {
		n += k.Failed
	}
	return n
}

// Incomplete reports whether any kind stopped reading its source early.
func (r *Report) Incomplete() bool {
	for _, k := range r.Kinds {
		if k.Err != "" {
			return true
		}
	}
	return false
}

// Output formats accepted by Render.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render writes r to w as text, json or yaml.
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatText, "":
		return r.renderText(w)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func (r *Report) renderText(w io.Writer) error {
	mode := "migration"
	if r.DryRun {
		mode = "dry run"
	}
	if _, err := fmt.Fprintf(w, "%s finished in %s\n\n", mode, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tATTEMPTED\tSUCCEEDED\tFAILED\tERROR")
	for _, kind := range model.Kinds {
		k, ok := r.Kinds[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", kind, k.Attempted, k.Succeeded, k.Failed, k.Err)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, kind := range model.Kinds {
		k, ok := r.Kinds[kind]
		if !ok {
			continue
		}
		for _, f := range k.Failures {
			if _, err := fmt.Fprintf(w, "failed %s %s (%s): %s\n", kind, f.ID, f.Kind, f.Error); err != nil {
				return err
			}
		}
	}
	return nil
}
