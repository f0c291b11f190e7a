// Package cli implements sotctl, the operator command line for templates,
// clone operations and SOT state.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leozw/blueprint-sot/internal/app"
	"github.com/leozw/blueprint-sot/internal/config"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

type globalOptions struct {
	output   string
	instance string
	verbose  bool
}

// NewRootCmd returns the root cobra command for sotctl.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "sotctl",
		Short:         "Operate blueprint templates, clones and source-of-truth sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.PersistentFlags().StringVar(&opts.instance, "instance", "", "Instance id (defaults to instance.id from config)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log to stderr")

	p := newPrinter(stdout, stderr)

	cmd.AddCommand(newVersionCmd(p))
	cmd.AddCommand(newMigrateCmd(opts, p))
	cmd.AddCommand(newDeclareCmd(opts, p))
	cmd.AddCommand(newCheckInCmd(opts, p))
	cmd.AddCommand(newStatusCmd(opts, p))
	cmd.AddCommand(newLogsCmd(opts, p))
	cmd.AddCommand(newExportCmd(opts, p))
	cmd.AddCommand(newSweepCmd(opts, p))
	cmd.AddCommand(newEventsCmd(opts, p))

	return cmd
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func (o *globalOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// open builds the services for one command run.
func (o *globalOptions) open(ctx context.Context) (*app.App, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, o.logger())
	if err != nil {
		return nil, err
	}
	if err := a.EnsureLocalProfile(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (o *globalOptions) instanceID(cfg *config.Config) (string, error) {
	if o.instance != "" {
		return o.instance, nil
	}
	if cfg.Instance.ID != "" {
		return cfg.Instance.ID, nil
	}
	return "", fmt.Errorf("--instance is required when instance.id is not configured")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
