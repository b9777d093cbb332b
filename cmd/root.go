// Package cmd provides command-line interface commands for LogGuard.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"logguard/bootstrap"
)

// NewRootCmd creates the root logguard command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logguard",
		Short: "Security log anomaly detection service",
		Long: `LogGuard analyzes uploaded log files for suspicious activity using
rule-based, statistical, and AI-assisted detection strategies, and serves the
review dashboard API.

Running without a subcommand starts the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(NewTriageCmd())

	return rootCmd
}

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LogGuard server",
		Long:  "Start the API server, analysis dispatcher, and webhook notifier.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	app.WaitForShutdown()
	app.Shutdown()

	return nil
}
