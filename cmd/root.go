// Package cmd provides the explorviz command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"explorviz/bootstrap"
	"explorviz/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	errorColor = color.New(color.FgRed, color.Bold)
	hintColor  = color.New(color.FgYellow)
)

type rootOptions struct {
	configFile string
	noColor    bool
}

// NewRootCmd creates the explorviz command. Running it starts the service,
// blocks until SIGINT or SIGTERM and then shuts down. bootstrapOpts are
// passed to bootstrap.New.
func NewRootCmd(bootstrapOpts ...bootstrap.Option) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "explorviz",
		Short: "Run the ExplorViz persistence service",
		Long: `Run the ExplorViz persistence service.

The service stores spans and repository analysis results in a Neo4j graph,
accepts them over gRPC and serves landscape queries over REST. Settings come
from config.yaml (or --config) and EXPLORVIZ_* environment variables.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, bootstrapOpts)
		},
	}

	rootCmd.Flags().StringVar(&opts.configFile, "config", "", "Config file path (default: config.yaml in . or ./config)")
	rootCmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return rootCmd
}

func run(ctx context.Context, opts *rootOptions, bootstrapOpts []bootstrap.Option) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return &bootstrap.Error{Kind: bootstrap.KindConfigInvalid, Component: "config", Err: err}
	}

	logger, sugar, err := bootstrap.InitLogger(cfg.Logging)
	if err != nil {
		return &bootstrap.Error{Kind: bootstrap.KindConfigInvalid, Component: "logging", Err: err}
	}
	defer func() { _ = logger.Sync() }()

	svc, err := bootstrap.New(sugar, bootstrapOpts...).Start(ctx, cfg)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		sugar.Infow("Shutdown signal received")
	case <-svc.Done():
		sugar.Warnw("A surface stopped serving, shutting down", "error", svc.Err())
	}

	shutdownErr := svc.Shutdown(context.WithoutCancel(ctx))
	if serveErr := svc.Err(); serveErr != nil {
		return errors.Join(serveErr, shutdownErr)
	}
	return shutdownErr
}

// Execute runs the root command with args and returns the process exit code.
// Failures are reported on stderr.
func Execute(ctx context.Context, args []string, stderr io.Writer, bootstrapOpts ...bootstrap.Option) int {
	rootCmd := NewRootCmd(bootstrapOpts...)
	rootCmd.SetArgs(args)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printFatal(stderr, err)
	}
	return bootstrap.ExitCode(err)
}

// printFatal writes the FATAL banner, one line per invalid config field.
func printFatal(w io.Writer, err error) {
	errorColor.Fprintf(w, "FATAL: %v\n", err)

	var invalid config.ValidationErrors
	if errors.As(err, &invalid) {
		for _, field := range invalid {
			hintColor.Fprintf(w, "  - %s %s\n", field.Field, field.Message)
		}
	}

	switch bootstrap.KindOf(err) {
	case bootstrap.KindConfigInvalid:
		fmt.Fprintln(w, "  Fix the configuration (config.yaml or EXPLORVIZ_* variables) and restart.")
	case bootstrap.KindBindFailure:
		fmt.Fprintln(w, "  Another process holds the port; change rest.port or grpc.port.")
	case bootstrap.KindDependencyUnreachable:
		fmt.Fprintln(w, "  A backend did not answer in time; see the log above for details.")
	}
}
