package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	modeScheduler = "scheduler"
	modeWeb       = "web"
	modeSync      = "sync"
	modeAuth      = "auth"
	modeStatus    = "status"
	modeCheck     = "check"
)

type options struct {
	mode          string
	configPath    string
	envFile       string
	output        string
	withScheduler bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "console_runner",
		Short:         "Sync Trakt lists into Emby collections",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", modeScheduler, "Run mode: scheduler, web, sync, auth, status or check")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to a .env file (default ./.env)")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format for status and check: table, yaml or json")
	flags.BoolVar(&opts.withScheduler, "with-scheduler", false, "In web mode, also run the sync loop and housekeeping tasks")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	mode := strings.ToLower(strings.TrimSpace(opts.mode))
	switch mode {
	case modeScheduler, modeWeb, modeSync, modeAuth, modeStatus, modeCheck:
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	switch opts.output {
	case outputTable, outputYAML, outputJSON:
	default:
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	a, err := newApp(ctx, opts, mode)
	if err != nil {
		return err
	}
	defer a.Close()

	switch mode {
	case modeScheduler:
		return a.runScheduler(ctx)
	case modeWeb:
		return a.runWeb(ctx, opts.withScheduler)
	case modeSync:
		return a.runSync(ctx, cmd)
	case modeAuth:
		return a.runAuth(ctx, cmd)
	case modeStatus:
		return a.printStatus(ctx, cmd, opts.output)
	default:
		return a.printCheck(ctx, cmd, opts.output)
	}
}
