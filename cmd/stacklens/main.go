package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// =============================================================================
// Application State
// =============================================================================

// app carries what every command needs once the root pre-run has loaded
// configuration.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	cfg        *Config
	logger     *slog.Logger
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stacklens",
		Short: "Resolve Compose projects and find conflicts between them",
		Long: `stacklens resolves Compose projects the way the engine would see them:
includes are merged, extends chains are flattened, variables are
interpolated and profiles are filtered. Resolved projects can be compared
to find host ports, container names and volumes they would fight over.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("db", "", "database DSN used by serve")

	root.AddCommand(
		newResolveCommand(a),
		newProfilesCommand(a),
		newCompareCommand(a),
		newServeCommand(a),
		newVersionCommand(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath, cmd.Flags())
	if err != nil {
		return &ExitError{Code: ExitConfigError, Err: fmt.Errorf("configuration error: %w", err)}
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg, a.stderr)
	return nil
}

// =============================================================================
// Exit Errors
// =============================================================================

// ExitError attaches a process exit code to a command failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCode maps a command error to a process exit code. Errors without a code
// are flag or argument mistakes reported by cobra.
func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.ExitCode
	}
	return ExitConfigError
}
