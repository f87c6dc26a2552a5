package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/artpar/stacklens/internal/core/compare"
	"github.com/artpar/stacklens/internal/core/domain"
	"github.com/artpar/stacklens/internal/core/validation"
	"github.com/artpar/stacklens/internal/shell/workspace"
)

type compareOptions struct {
	projectFlags
	output string
	failOn string
}

// compareReport is the JSON form of a comparison.
type compareReport struct {
	Projects []compare.Project `json:"-"`
	Findings []compare.Finding `json:"findings"`
	Summary  compare.Summary   `json:"summary"`
}

func newCompareCommand(a *app) *cobra.Command {
	o := &compareOptions{}
	cmd := &cobra.Command{
		Use:   "compare PATH PATH...",
		Short: "Resolve several projects and report resources they share",
		Long: `Compare resolves each project directory and reports host ports,
container names, named volumes, external networks, env files and service
names used by more than one of them. Projects are identified by the path
given on the command line.`,
		Example: `  stacklens compare ./shop ./billing
  stacklens compare ./shop ./billing --profile debug --fail-on warning`,
		Args:              cobra.MinimumNArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompare(cmd, args, o)
		},
	}
	o.register(cmd)
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "output format (table, json)")
	cmd.Flags().StringVar(&o.failOn, "fail-on", "none", "exit non-zero when findings reach this severity (error, warning, none)")
	return cmd
}

func (a *app) runCompare(cmd *cobra.Command, paths []string, o *compareOptions) error {
	if field, msg := validation.ValidateCompareFields("projects", len(paths)); field != "" {
		return &ExitError{Code: ExitConfigError, Err: fmt.Errorf("%s: %s", field, msg)}
	}
	if err := checkChoice("output", o.output, "table", "json"); err != nil {
		return err
	}
	if err := checkChoice("fail-on", o.failOn, "error", "warning", "none"); err != nil {
		return err
	}

	inputs := make([]workspace.Input, 0, len(paths))
	for _, path := range paths {
		p, err := a.loadProject(path, &o.projectFlags)
		if err != nil {
			return err
		}
		inputs = append(inputs, workspace.Input{
			ID:      path,
			Name:    p.Name,
			Text:    p.Content,
			Options: o.options(p),
		})
	}

	outputs, err := workspace.ResolveAll(cmd.Context(), inputs, a.cfg.Resolve.MaxConcurrency, a.logger)
	if err != nil {
		return err
	}

	projects := make([]compare.Project, 0, len(outputs))
	for _, out := range outputs {
		a.printDiagnostics(out.ID, out.Result)
		if out.Result.Fatal() {
			return fatalError(out.ID, out.Result)
		}
		projects = append(projects, compare.Project{ID: out.ID, Name: out.Name, Document: out.Result.Document})
	}

	findings := compare.Compare(projects)
	report := compareReport{
		Projects: projects,
		Findings: findings,
		Summary:  compare.Summarize(findings),
	}
	if report.Findings == nil {
		report.Findings = []compare.Finding{}
	}

	if o.output == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderFindings(a.stdout, report)
	}

	if domain.ExceedsThreshold(report.Summary, compare.Severity(o.failOn)) {
		return &ExitError{
			Code: ExitConflictsFound,
			Err: fmt.Errorf("conflicts found: %d errors, %d warnings",
				report.Summary.Error, report.Summary.Warning),
		}
	}
	return nil
}

func renderFindings(w io.Writer, report compareReport) {
	if len(report.Findings) == 0 {
		fmt.Fprintf(w, "no conflicts between %d projects\n", len(report.Projects))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"SEVERITY", "CATEGORY", "KEY", "PROJECTS", "MESSAGE"})
	for _, f := range report.Findings {
		t.AppendRow(table.Row{f.Severity, f.Category, f.Key, strings.Join(f.Projects, "\n"), f.Message})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 5, WidthMax: 60},
	})
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	s := report.Summary
	fmt.Fprintf(w, "\n%d findings: %d errors, %d warnings, %d info\n", s.Total, s.Error, s.Warning, s.Info)
}
