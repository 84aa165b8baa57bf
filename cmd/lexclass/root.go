package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/lexclass/internal/app"
	"github.com/dgallion1/lexclass/internal/config"
	"github.com/dgallion1/lexclass/internal/metrics"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "lexclass",
		Short:        "Classify legal documents by nearest-neighbor voting",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default config.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	config.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newBuildIndexCmd(opts),
		newClassifyCmd(opts),
		newInspectCmd(opts),
	)
	return cmd
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// loadApp resolves configuration (file, environment, then flags) and wires
// the components.
func loadApp(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*app.App, error) {
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log, metrics.New())
}
