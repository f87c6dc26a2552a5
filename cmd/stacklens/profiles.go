package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/artpar/stacklens/internal/core/compose"
	"github.com/artpar/stacklens/internal/core/profiles"
	"github.com/artpar/stacklens/internal/core/resolve"
)

type profilesOptions struct {
	projectFlags
	output string
}

// profileReport lists the profiles declared in a resolved project.
type profileReport struct {
	Project  string         `json:"project"`
	Profiles []string       `json:"profiles"`
	Counts   map[string]int `json:"counts"`
	Services int            `json:"services"`
	AlwaysOn int            `json:"always_on"`
}

func newProfilesCommand(a *app) *cobra.Command {
	o := &profilesOptions{}
	cmd := &cobra.Command{
		Use:               "profiles PATH",
		Short:             "List the profiles declared by a project",
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProfiles(args[0], o)
		},
	}
	o.register(cmd)
	cmd.Flags().StringVar(&o.root, "root", "", "root document relative to PATH")
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func (a *app) runProfiles(path string, o *profilesOptions) error {
	if err := checkChoice("output", o.output, "table", "json"); err != nil {
		return err
	}

	p, err := a.loadProject(path, &o.projectFlags)
	if err != nil {
		return err
	}

	// Every service is needed to count, so filtering is off regardless of flags.
	opts := o.options(p)
	opts.EnableProfiles = false

	result := resolve.Resolve(p.Content, opts)
	a.printDiagnostics(p.Name, result)
	if result.Fatal() {
		return fatalError(p.Name, result)
	}

	report := profileReport{
		Project:  p.Name,
		Profiles: result.Profiles,
		Counts:   result.ProfileCounts,
	}
	compose.Services(result.Document).Each(func(_ string, service any) {
		report.Services++
		if profiles.ServiceMatches(service, nil) {
			report.AlwaysOn++
		}
	})

	if o.output == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	renderProfiles(a.stdout, report)
	return nil
}

func renderProfiles(w io.Writer, report profileReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"PROFILE", "SERVICES"})
	for _, name := range report.Profiles {
		t.AppendRow(table.Row{name, report.Counts[name]})
	}
	t.AppendFooter(table.Row{"always on", report.AlwaysOn})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	fmt.Fprintf(w, "\n%d services, %d profiles\n", report.Services, len(report.Profiles))
}
