package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	dopgoja "github.com/dop251/goja"

	"github.com/tracewire/dbgcore/api"
	"github.com/tracewire/dbgcore/dap"
	gojabridge "github.com/tracewire/dbgcore/hostbridge/goja"
	"github.com/tracewire/dbgcore/step"
	"github.com/tracewire/dbgcore/util/logutil"
)

// rootOptions mirrors commands/debug/root.go's DebugConfig shape: a flat
// set of flags gathered before the run, not a cobra.Command closure per
// subcommand, since this binary has only the one debug server mode.
type rootOptions struct {
	script  string
	verbose bool
	quiet   []string
	noColor bool
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "dbgd",
		Short: "Run the line debugger's DAP server over stdio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.script = args[0]
			return run(cmd.Context(), &opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringSliceVar(&opts.quiet, "quiet-filter", nil, "substrings of debug log lines to suppress")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colorized REPL banner")

	return cmd
}

func run(ctx context.Context, opts *rootOptions) error {
	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if len(opts.quiet) > 0 {
		logrus.AddHook(logutil.NewFilter(opts.quiet...))
	}

	src, err := os.ReadFile(opts.script)
	if err != nil {
		return errors.Wrapf(err, "dbgd: read %s", opts.script)
	}

	checker := fileChecker{}
	dbg := api.New(os.Stderr, checker)
	adapter := dap.NewAdapter(dbg)

	conn := dap.NewConn(os.Stdin, os.Stdout)
	defer func() {
		if err := conn.Close(); err != nil {
			logrus.Warnf("dbgd: failed to close connection: %v", err)
		}
	}()

	launchDone := make(chan struct {
		cfg dap.LaunchConfig
		err error
	}, 1)
	go func() {
		cfg, startErr := adapter.Start(ctx, conn)
		launchDone <- struct {
			cfg dap.LaunchConfig
			err error
		}{cfg, startErr}
	}()

	var cfg dap.LaunchConfig
	select {
	case res := <-launchDone:
		if res.err != nil {
			return errors.Wrap(res.err, "dbgd: launch")
		}
		cfg = res.cfg
	case <-ctx.Done():
		return ctx.Err()
	}

	// Block running the script until the client's initial
	// SetBreakpoints/SetExceptionBreakpoints requests have landed, so the
	// script never races past a breakpoint the client meant to arm before
	// the first line executes.
	if err := adapter.WaitConfigured(ctx); err != nil {
		return err
	}

	rt := dopgoja.New()
	bridge := gojabridge.New(rt, dbg.Registry, "main", dbg.Disp.Dispatch)
	adapter.RegisterMainThread("main", "main")
	if cfg.StopOnEntry {
		step.Store(dbg.Registry.InfoFor("main"), step.StopOnEntry)
	}

	prog, err := bridge.Compile(opts.script, string(src))
	if err != nil {
		return errors.Wrapf(err, "dbgd: compile %s", opts.script)
	}

	banner := color.New(color.FgCyan).SprintFunc()
	if !opts.noColor {
		fmt.Fprintln(os.Stderr, banner("dbgd: attached to "+opts.script))
	} else {
		fmt.Fprintln(os.Stderr, "dbgd: attached to "+opts.script)
	}

	if _, err := rt.RunProgram(prog); err != nil {
		logrus.WithError(err).Warn("dbgd: script raised an uncaught error")
	}

	return adapter.Stop()
}

// fileChecker satisfies api.FileChecker against the local filesystem,
// with no exclude-filter opinions of its own (the Launch request's
// projectRoots/excludeFilters configure that through api.Debugger).
type fileChecker struct{}

func (fileChecker) Exists(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}

func (fileChecker) Excluded(string) bool { return false }
