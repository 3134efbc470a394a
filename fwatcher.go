package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justin-molloy/fwatcher/config"
	"github.com/justin-molloy/fwatcher/controller"
	"github.com/justin-molloy/fwatcher/filter"
	"github.com/justin-molloy/fwatcher/gate"
	"github.com/justin-molloy/fwatcher/supervisor"
	"github.com/justin-molloy/fwatcher/watcher"
)

var version = "0.2.0"

const (
	exitOK           = 0
	exitUsage        = 1
	exitRegistration = 2
	exitWatchSource  = 3
)

// exitError carries the process exit code out of the cobra command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type flagValues struct {
	configFile      string
	directories     []string
	patterns        []string
	excludePatterns []string
	interval        int
	restart         bool
	killSignal      string
	reconnect       bool
	logLevel        string
	logDir          string
	printConfig     bool
}

func main() {

	// Stop on Ctrl-C or SIGTERM. The running command is signalled on the way
	// out when --restart is set.

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(ctx)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(stderr, "fwatcher: %v\n", exitErr.err)
		return exitErr.code
	}

	// flag parsing errors
	fmt.Fprintf(stderr, "fwatcher: %v\n\n%s", err, cmd.UsageString())
	return exitUsage
}

func newRootCommand(ctx context.Context) *cobra.Command {
	var flags flagValues

	cmd := &cobra.Command{
		Use:   "fwatcher [options] CMD [ARGS...]",
		Short: "Run a command and run it again whenever watched files change",
		Long: `fwatcher runs CMD once, then watches the given directories recursively.
When a file matching an include pattern (and no exclude pattern) is created or
modified, CMD is run again, at most once per interval. Changes during the
interval are dropped, not queued.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(ctx, cmd, &flags, args)
		},
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	// everything after the first free argument belongs to CMD
	cmd.Flags().SetInterspersed(false)

	f := cmd.Flags()
	f.StringVarP(&flags.configFile, "config", "c", "", "YAML config file; flags override its values")
	f.StringArrayVarP(&flags.directories, "directory", "d", nil, "watch directory (repeatable, default: current directory)")
	f.StringArrayVarP(&flags.patterns, "pattern", "p", nil, "include glob (repeatable, default: *)")
	f.StringArrayVarP(&flags.excludePatterns, "exclude_pattern", "P", nil, "exclude glob (repeatable)")
	f.IntVarP(&flags.interval, "interval", "i", config.DefaultInterval, "minimum interval between runs in seconds")
	f.BoolVarP(&flags.restart, "restart", "r", false, "kill the running command before running it again")
	f.StringVar(&flags.killSignal, "signal", config.DefaultSignal, "signal used to kill the running command with --restart")
	f.BoolVar(&flags.reconnect, "reconnect", false, "rebuild the file watcher after an error instead of exiting")
	f.StringVar(&flags.logLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	f.StringVar(&flags.logDir, "logdir", "", "write logs to a dated file in this directory instead of stderr")
	f.BoolVar(&flags.printConfig, "print-config", false, "print the effective configuration and exit")

	return cmd
}

func execute(ctx context.Context, cmd *cobra.Command, flags *flagValues, args []string) error {

	// Read the config file first if there is one. Flags given on the command
	// line win over values from the file.

	var cfg config.WatchConfig
	if flags.configFile != "" {
		loaded, err := config.LoadConfig(flags.configFile)
		if err != nil {
			return &exitError{exitUsage, err}
		}
		cfg = loaded
	}
	mergeFlags(cmd, flags, &cfg)
	if len(args) > 0 {
		cfg.Command = args
	}
	cfg.SetDefaults()

	if flags.printConfig {
		if err := config.PrintConfig(cmd.OutOrStdout(), cfg); err != nil {
			return &exitError{exitUsage, err}
		}
		return nil
	}

	if err := config.ValidateConfig(&cfg); err != nil {
		if len(cfg.Command) == 0 {
			fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
		}
		return &exitError{exitUsage, err}
	}

	// set up logging once the destination is known. Console logs go to
	// stderr since stdout belongs to CMD.

	logFile, err := config.SetupLogger(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return &exitError{exitUsage, fmt.Errorf("failed to set up logger: %w", err)}
	}
	if logFile != nil {
		defer logFile.Close()
	}

	pf, err := filter.New(cfg.Patterns, cfg.ExcludePatterns)
	if err != nil {
		return &exitError{exitUsage, err}
	}

	sig, err := supervisor.ParseSignal(cfg.KillSignal)
	if err != nil {
		return &exitError{exitUsage, err}
	}

	sup, err := supervisor.New(cfg.Command, cfg.Restart, &supervisor.ExecLauncher{Signal: sig})
	if err != nil {
		return &exitError{exitUsage, err}
	}

	// register every directory before anything is spawned; a directory that
	// can't be watched is fatal.

	src, err := watcher.New(cfg.Directories, watcher.Options{Reconnect: cfg.Reconnect})
	if err != nil {
		slog.Error("Failed to watch directories", "error", err)
		return &exitError{exitRegistration, err}
	}
	defer src.Close()

	ig := gate.New(cfg.IntervalDuration())

	slog.Info("Watching",
		"directories", cfg.Directories,
		"watched", len(src.Watched()),
		"patterns", cfg.Patterns,
		"exclude", cfg.ExcludePatterns,
		"interval", ig.Interval(),
		"restart", cfg.Restart)

	ctrl := controller.New(pf, ig, sup, controller.Options{Notices: cmd.ErrOrStderr()})
	runErr := ctrl.Run(ctx, src)

	sup.Shutdown()

	if runErr != nil {
		return &exitError{exitWatchSource, runErr}
	}
	slog.Info("fwatcher stopped", "runs", sup.Spawns(), "left_running", sup.Active())
	return nil
}

func mergeFlags(cmd *cobra.Command, flags *flagValues, cfg *config.WatchConfig) {
	changed := cmd.Flags().Changed

	if changed("directory") {
		cfg.Directories = flags.directories
	}
	if changed("pattern") {
		cfg.Patterns = flags.patterns
	}
	if changed("exclude_pattern") {
		cfg.ExcludePatterns = flags.excludePatterns
	}
	if changed("interval") || cfg.Interval == nil {
		interval := flags.interval
		cfg.Interval = &interval
	}
	if changed("restart") {
		cfg.Restart = flags.restart
	}
	if changed("signal") || cfg.KillSignal == "" {
		cfg.KillSignal = flags.killSignal
	}
	if changed("reconnect") {
		cfg.Reconnect = flags.reconnect
	}
	if changed("loglevel") || cfg.LogLevel == "" {
		cfg.LogLevel = flags.logLevel
	}
	if changed("logdir") {
		cfg.LogDir = flags.logDir
	}
}
