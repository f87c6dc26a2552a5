package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes resolution and comparison over HTTP and keeps saved
projects and comparison reports in SQLite. Configuration comes from the
config file and STACKLENS_* environment variables.`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("starting stacklens",
				"version", Version,
				"config", a.configPath,
			)

			server, err := NewServer(a.cfg, a.logger)
			if err != nil {
				return err
			}
			return server.Start(cmd.Context())
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		// Version never needs configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "stacklens %s (built %s)\n", Version, BuildTime)
			return err
		},
	}
}
