package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/stacklens/internal/core/compose"
	"github.com/artpar/stacklens/internal/core/resolve"
	"github.com/artpar/stacklens/internal/core/validation"
	"github.com/artpar/stacklens/internal/shell/workspace"
)

// =============================================================================
// Shared Project Flags
// =============================================================================

// projectFlags select how a project directory is read and which stages run.
type projectFlags struct {
	root     string
	envFiles []string
	osEnv    bool
	profiles []string

	noIncludes  bool
	noExtends   bool
	noVariables bool
	noProfiles  bool
}

func (f *projectFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVar(&f.envFiles, "env-file", nil, "extra env file, later files win (repeatable)")
	flags.BoolVar(&f.osEnv, "os-env", false, "add the process environment to interpolation")
	flags.StringSliceVarP(&f.profiles, "profile", "p", nil, "activate a profile (repeatable)")
	flags.BoolVar(&f.noIncludes, "no-includes", false, "skip include resolution")
	flags.BoolVar(&f.noExtends, "no-extends", false, "skip extends resolution")
	flags.BoolVar(&f.noVariables, "no-variables", false, "skip variable interpolation")
	flags.BoolVar(&f.noProfiles, "no-profiles", false, "keep services regardless of profiles")
}

func (f *projectFlags) options(p *workspace.Project) resolve.Options {
	opts := p.ResolveOptions(f.profiles)
	opts.EnableIncludes = !f.noIncludes
	opts.EnableExtends = !f.noExtends
	opts.EnableVariables = !f.noVariables
	opts.EnableProfiles = !f.noProfiles
	return opts
}

func (a *app) loadProject(path string, f *projectFlags) (*workspace.Project, error) {
	p, err := newLoader(a.cfg, f.envFiles, f.osEnv, a.logger).LoadDirectory(path, f.root)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Err: err}
	}
	return p, nil
}

// printDiagnostics writes one line per diagnostic to stderr.
func (a *app) printDiagnostics(project string, result *resolve.ParseResult) {
	for _, d := range result.Diagnostics {
		fmt.Fprintf(a.stderr, "%s: %s [%s] %s\n", project, d.Kind, d.Stage, d.Message)
	}
}

func fatalError(project string, result *resolve.ParseResult) error {
	return &ExitError{
		Code: ExitResolveError,
		Err:  fmt.Errorf("failed to resolve %s: %w", project, result.Err()),
	}
}

func checkChoice(field, value string, allowed ...string) error {
	if f, msg := validation.ValidateChoice(field, value, allowed...); f != "" {
		return &ExitError{Code: ExitConfigError, Err: errors.New(msg)}
	}
	return nil
}

// =============================================================================
// Resolve Command
// =============================================================================

type resolveOptions struct {
	projectFlags
	metadata bool
	output   string
}

func newResolveCommand(a *app) *cobra.Command {
	o := &resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve PATH",
		Short: "Resolve a project and print the merged document",
		Long: `Resolve reads every YAML file under PATH, picks the root document and
prints the fully resolved result. PATH may also name the root file itself.
Diagnostics are written to stderr.`,
		Example: `  stacklens resolve ./shop
  stacklens resolve ./shop --profile debug --env-file prod.env -o json`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runResolve(args[0], o)
		},
	}
	o.register(cmd)
	cmd.Flags().StringVar(&o.root, "root", "", "root document relative to PATH")
	cmd.Flags().BoolVar(&o.metadata, "metadata", false, "annotate interpolated values with their source expressions")
	cmd.Flags().StringVarP(&o.output, "output", "o", "yaml", "output format (yaml, json)")
	return cmd
}

func (a *app) runResolve(path string, o *resolveOptions) error {
	if err := checkChoice("output", o.output, "yaml", "json"); err != nil {
		return err
	}

	p, err := a.loadProject(path, &o.projectFlags)
	if err != nil {
		return err
	}

	opts := o.options(p)
	opts.AddMetadata = o.metadata

	result := resolve.Resolve(p.Content, opts)
	a.printDiagnostics(p.Name, result)
	if result.Fatal() {
		return fatalError(p.Name, result)
	}

	var out []byte
	if o.output == "json" {
		out, err = compose.MarshalDocumentJSON(result.Document)
		out = append(out, '\n')
	} else {
		out, err = compose.MarshalDocumentYAML(result.Document)
	}
	if err != nil {
		return err
	}

	a.logger.Debug("resolved project",
		"project", p.Name,
		"root", p.RootPath,
		"diagnostics", len(result.Diagnostics))

	_, err = a.stdout.Write(out)
	return err
}
