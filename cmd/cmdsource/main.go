// Package main is the entry point for cmdsource.
//
// cmdsource clones a repository, runs a command, and turns each line the
// command prints into an event for the bundled host.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/cmdsource/internal/adapter"
	"github.com/dshills/cmdsource/internal/config"
	"github.com/dshills/cmdsource/internal/event"
	"github.com/dshills/cmdsource/internal/host"
	"github.com/dshills/cmdsource/internal/logging"
	"github.com/dshills/cmdsource/internal/process"
	"github.com/dshills/cmdsource/internal/provision"
	"github.com/dshills/cmdsource/internal/rules"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitProcessFailed = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitOK
	root := newRootCommand(&code, os.Stdout, os.Stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	return code
}

// flags holds the command line. Only flags the user set override the
// file and environment layers.
type flags struct {
	configPath string
	pretty     bool

	command      string
	repository   string
	deserialize  bool
	sendOutput   bool
	shell        string
	workdir      string
	queueSize    int
	maxLineSize  int
	drainTimeout time.Duration
	rules        string
	rulesReload  bool
	logLevel     string
	logFormat    string
}

func newRootCommand(code *int, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "cmdsource [flags]",
		Short: "Turn a command's output into a stream of events",
		Long: `cmdsource clones a repository, runs a shell command, and forwards each
line the command prints as an event {"cmd": <line>, "meta": {"command": <command>}}.

Settings come from defaults, then the TOML file given by --config, then
CMDSOURCE_* environment variables, then flags.`,
		Example: `  cmdsource --repository https://github.com/org/loop.git --command 'cd loop && ./closed-loop' --send-output
  cmdsource --config cmdsource.toml --rules alerts.lua --pretty`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{
				Path:      f.configPath,
				Overrides: f.overrides(cmd),
			})
			if err != nil {
				return err
			}

			*code = execute(cmd.Context(), cfg, runOptions{
				stdout: stdout,
				stderr: stderr,
				pretty: f.pretty,
				color:  isTerminal(stdout),
			})
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Path to a TOML configuration file")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent printed events")
	fl.StringVar(&f.command, "command", "", "Shell command that produces events")
	fl.StringVar(&f.repository, "repository", "", "Repository to clone before running the command")
	fl.BoolVar(&f.deserialize, "deserialize", true, "Parse each output line as JSON")
	fl.BoolVar(&f.sendOutput, "send-output", false, "Forward output lines as events instead of discarding them")
	fl.StringVar(&f.shell, "shell", "", "Shell that interprets the command (default /bin/sh)")
	fl.StringVarP(&f.workdir, "workdir", "w", "", "Clone target and command working directory (default .)")
	fl.IntVar(&f.queueSize, "queue-size", 0, "Capacity of the event queue")
	fl.IntVar(&f.maxLineSize, "max-line-size", 0, "Longest accepted output line in bytes")
	fl.DurationVar(&f.drainTimeout, "drain-timeout", 0, "How long to wait for the command after cancellation")
	fl.StringVar(&f.rules, "rules", "", "Lua rule script evaluated against each event")
	fl.BoolVar(&f.rulesReload, "rules-reload", false, "Reload the rule script when it changes")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fl.StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	return cmd
}

// overrides returns the settings for flags set on the command line.
func (f *flags) overrides(cmd *cobra.Command) map[string]any {
	values := map[string]any{
		"command":       f.command,
		"repository":    f.repository,
		"deserialize":   f.deserialize,
		"send-output":   f.sendOutput,
		"shell":         f.shell,
		"workdir":       f.workdir,
		"queue-size":    f.queueSize,
		"max-line-size": f.maxLineSize,
		"drain-timeout": f.drainTimeout,
		"rules":         f.rules,
		"rules-reload":  f.rulesReload,
		"log-level":     f.logLevel,
		"log-format":    f.logFormat,
	}
	keys := map[string]string{
		"command":       config.KeyCommand,
		"repository":    config.KeyRepository,
		"deserialize":   config.KeyDeserialize,
		"send-output":   config.KeySendOutput,
		"shell":         config.KeyShell,
		"workdir":       config.KeyWorkdir,
		"queue-size":    config.KeyQueueSize,
		"max-line-size": config.KeyMaxLineSize,
		"drain-timeout": config.KeyDrainTimeout,
		"rules":         config.KeyRules,
		"rules-reload":  config.KeyRulesReload,
		"log-level":     config.KeyLogLevel,
		"log-format":    config.KeyLogFormat,
	}

	out := make(map[string]any)
	for name, key := range keys {
		if cmd.Flags().Changed(name) {
			out[key] = values[name]
		}
	}
	return out
}

type runOptions struct {
	stdout io.Writer
	stderr io.Writer
	pretty bool
	color  bool
}

// execute provisions the repository, runs the command and feeds its
// events to the host. It returns the process exit code for cmdsource.
func execute(ctx context.Context, cfg *config.Config, opts runOptions) int {
	log := logging.New(cfg.Log.Level, cfg.Log.Format, opts.stderr)

	var p provision.Provisioner
	if path, err := p.Clone(ctx, cfg.Repository, cfg.Workdir); err != nil {
		if errors.Is(err, provision.ErrAlreadyCloned) {
			log.Info("repository already cloned", "repository", cfg.Repository, "path", path)
		} else {
			log.Warn("failed to clone repository", "repository", cfg.Repository, "error", err)
		}
	} else {
		log.Info("repository cloned", "repository", cfg.Repository, "path", path)
	}

	printer := host.NewPrinter(opts.stdout)
	printer.Pretty = opts.pretty
	printer.Color = opts.color
	h := &host.Host{Printer: printer, Logger: log}

	if cfg.Rules != "" {
		rule, err := loadRule(cfg, log)
		if err != nil {
			log.Error("failed to load rules", "path", cfg.Rules, "error", err)
			return exitError
		}
		defer rule.Close()
		h.Rule = rule
	}

	// The supervisor outlives the run so a child left behind by an early
	// return is still terminated.
	sup := process.NewSupervisor(process.WithProcessExitCallback(func(p *process.Process) {
		log.Debug("process reaped",
			"id", p.ID,
			"pid", p.PID(),
			"code", p.ExitCode(),
			"runtime", p.Runtime(),
		)
	}))
	defer sup.Shutdown(cfg.DrainTimeout)

	queue := event.NewQueue(cfg.QueueSize)

	// The host drains whatever was queued before the queue closed, even
	// after a shutdown signal.
	hostDone := make(chan host.Stats, 1)
	go func() {
		stats, err := h.Run(context.WithoutCancel(ctx), queue.Events())
		if err != nil {
			log.Error("host stopped", "error", err)
			// Keep the queue moving so the command is not blocked forever.
			for range queue.Events() {
			}
		}
		hostDone <- stats
	}()

	a := adapter.New(cfg.Descriptor(), queue,
		adapter.WithLogger(log),
		adapter.WithSupervisor(sup),
		adapter.WithDrainTimeout(cfg.DrainTimeout),
		adapter.WithMaxLineSize(cfg.MaxLineSize),
	)
	outcome, err := a.Run(ctx)

	queue.Close()
	stats := <-hostDone
	log.Debug("host finished", "received", stats.Received, "matched", stats.Matched, "rule_errors", stats.RuleErrors)

	switch {
	case err != nil:
		return exitError
	case outcome.Canceled:
		return exitOK
	case outcome.Failure() != nil:
		return exitProcessFailed
	default:
		return exitOK
	}
}

type closingEvaluator interface {
	host.Evaluator
	Close() error
}

func loadRule(cfg *config.Config, log logging.Logger) (closingEvaluator, error) {
	if cfg.RulesReload {
		return rules.Watch(cfg.Rules, log)
	}
	return rules.LoadFile(cfg.Rules)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
