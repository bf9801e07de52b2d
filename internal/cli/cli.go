// Package cli implements the stagesync command line: sync, plan, evict,
// verify and watch over a stage and ledger chosen by configuration.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync"
	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/exitcode"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

const usage = `Usage: stagesync [-config FILE] [-env-file FILE] COMMAND [flags]

Commands:
  sync     stage new and changed files under root, once
  plan     print what sync would do without changing anything
  evict    make FAILED content eligible for upload again
  verify   check that every staged object is still present
  watch    sync on a cron schedule and serve /metrics
`

// App runs one CLI invocation. The zero value reads configuration from
// the environment and builds the stage and ledger it names.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// Stages overrides the stage named in configuration
	Stages stage.Provider

	// Store overrides the ledger store named in configuration
	Store ledger.Store

	// Filesystem overrides the local filesystem scanned for files
	Filesystem fs.Filesystem
}

// env is the state shared by every command.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Run executes args and returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Stdout == nil {
		a.Stdout = io.Discard
	}
	if a.Stderr == nil {
		a.Stderr = io.Discard
	}

	flags := flag.NewFlagSet("stagesync", flag.ContinueOnError)
	flags.SetOutput(a.Stderr)
	flags.Usage = func() {
		fmt.Fprint(a.Stderr, usage)
		flags.PrintDefaults()
	}
	configFile := flags.String("config", "", "YAML config file")
	envFile := flags.String("env-file", ".env", "dotenv file, ignored when missing")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitcode.Success
		}
		return exitcode.ConfigError
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitcode.ConfigError
	}

	name, rest := flags.Arg(0), flags.Args()[1:]
	cmd := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd.SetOutput(a.Stderr)
	overrides := map[string]any{}
	var olderThan time.Duration

	switch name {
	case "sync", "plan", "watch":
		root := cmd.String("root", "", "local directory to stage (overrides root)")
		prefix := cmd.String("prefix", "", "remote prefix (overrides prefix)")
		if err := cmd.Parse(rest); err != nil {
			return exitcode.ConfigError
		}
		if *root != "" {
			overrides["root"] = *root
		}
		if *prefix != "" {
			overrides["prefix"] = *prefix
		}
	case "evict":
		cmd.DurationVar(&olderThan, "older-than", -1, "evict FAILED records last tried at least this long ago (default sync.eviction_window)")
		if err := cmd.Parse(rest); err != nil {
			return exitcode.ConfigError
		}
	case "verify":
		if err := cmd.Parse(rest); err != nil {
			return exitcode.ConfigError
		}
	default:
		fmt.Fprintf(a.Stderr, "unknown command %q\n\n", name)
		flags.Usage()
		return exitcode.ConfigError
	}

	cfg, err := config.Load(*configFile, *envFile, overrides)
	if err != nil {
		fmt.Fprintf(a.Stderr, "configuration: %v\n", err)
		return exitcode.ConfigError
	}
	if name != "evict" && name != "verify" && cfg.Root == "" {
		err := &config.ValidationError{Fields: []config.FieldError{{Key: "root", Rule: "required"}}}
		fmt.Fprintf(a.Stderr, "configuration: %v\n", err)
		return exitcode.ConfigError
	}
	e := &env{cfg: cfg, logger: newLogger(a.Stderr, cfg.Log)}

	switch name {
	case "sync":
		return a.withSyncer(ctx, e, nil, func(s *stagesync.Syncer) int {
			return a.sync(ctx, e, s)
		})
	case "plan":
		return a.withSyncer(ctx, e, nil, func(s *stagesync.Syncer) int {
			return a.plan(ctx, e, s)
		})
	case "evict":
		if olderThan < 0 {
			olderThan = cfg.Sync.EvictionWindow
		}
		return a.withSyncer(ctx, e, nil, func(s *stagesync.Syncer) int {
			return a.evict(ctx, e, s, olderThan)
		})
	case "verify":
		return a.withSyncer(ctx, e, nil, func(s *stagesync.Syncer) int {
			return a.verify(ctx, e, s)
		})
	default:
		return a.watch(ctx, e)
	}
}

// withSyncer opens the stage and ledger, runs fn and releases the ledger.
func (a *App) withSyncer(ctx context.Context, e *env, reg *prometheus.Registry, fn func(*stagesync.Syncer) int) int {
	provider := a.Stages
	if provider == nil {
		provider = stageProvider(e.cfg.Stage)
	}
	st, err := provider.Stage(ctx)
	if err != nil {
		e.logger.Error("failed to set up stage", "kind", e.cfg.Stage.Kind, "error", err)
		return exitcode.ConfigError
	}

	store, closeStore := a.Store, func() error { return nil }
	if store == nil {
		store, closeStore, err = openStore(ctx, e.cfg.Ledger)
		if err != nil {
			e.logger.Error("failed to open ledger", "kind", e.cfg.Ledger.Kind, "error", err)
			return exitcode.LedgerError
		}
	}
	defer func() {
		if err := closeStore(); err != nil {
			e.logger.Warn("failed to close ledger", "error", err)
		}
	}()

	opts := syncerOptions(e.cfg, e.logger, reg)
	if a.Filesystem != nil {
		opts = append(opts, stagesync.WithFilesystem(a.Filesystem))
	}
	syncer, err := stagesync.New(st, store, opts...)
	if err != nil {
		e.logger.Error("invalid sync settings", "error", err)
		return exitcode.ConfigError
	}
	return fn(syncer)
}

func (a *App) sync(ctx context.Context, e *env, s *stagesync.Syncer) int {
	report, err := s.Sync(ctx, e.cfg.Root, e.cfg.Prefix)
	if err != nil {
		e.logger.Error("sync failed", "root", e.cfg.Root, "error", err)
		return errorCode(err)
	}

	fmt.Fprintf(a.Stdout, "run %s: uploaded %d, skipped %d, failed %d, %d bytes in %s\n",
		report.RunID, report.Uploaded, report.Skipped, report.Failed, report.BytesUploaded,
		report.Duration.Round(time.Millisecond))
	for _, f := range report.Failures {
		fmt.Fprintf(a.Stdout, "FAILED\t%s\t%s\n", f.Record.RelPath, f.Reason)
	}
	if report.Cancelled {
		fmt.Fprintln(a.Stdout, "interrupted: remaining files were not dispatched")
	}
	return reportCode(report)
}

func (a *App) plan(ctx context.Context, e *env, s *stagesync.Syncer) int {
	plan, err := s.Plan(ctx, e.cfg.Root, e.cfg.Prefix)
	if err != nil {
		e.logger.Error("plan failed", "root", e.cfg.Root, "error", err)
		return errorCode(err)
	}

	tw := tabwriter.NewWriter(a.Stdout, 0, 4, 2, ' ', 0)
	for _, entry := range plan.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Action, entry.RemoteLocation, entry.Reason)
	}
	for _, skipped := range plan.ScanSkipped {
		fmt.Fprintf(tw, "IGNORE\t%s\t%s\n", skipped.Path, skipped.Reason)
	}
	if err := tw.Flush(); err != nil {
		return exitcode.ConfigError
	}
	fmt.Fprintf(a.Stdout, "%d to upload, %d to retry, %d to skip\n",
		plan.Count(stagetypes.ActionUpload), plan.Count(stagetypes.ActionRetry), plan.Count(stagetypes.ActionSkip))
	return exitcode.Success
}

func (a *App) evict(ctx context.Context, e *env, s *stagesync.Syncer, olderThan time.Duration) int {
	n, err := s.Evict(ctx, olderThan)
	if err != nil {
		e.logger.Error("evict failed", "error", err)
		return exitcode.LedgerError
	}
	fmt.Fprintf(a.Stdout, "evicted %d failed records\n", n)
	return exitcode.Success
}

func (a *App) verify(ctx context.Context, e *env, s *stagesync.Syncer) int {
	res, err := s.Verify(ctx)
	if err != nil {
		e.logger.Error("verify failed", "error", err)
		return errorCode(err)
	}

	for _, rec := range res.Missing {
		fmt.Fprintf(a.Stdout, "MISSING\t%s\t%s\n", rec.RemoteLocation, rec.LocalPath)
	}
	fmt.Fprintf(a.Stdout, "checked %d, missing %d\n", res.Checked, len(res.Missing))
	if len(res.Missing) > 0 {
		return exitcode.PartialFailure
	}
	return exitcode.Success
}

// errorCode maps a run-fatal error to an exit code.
func errorCode(err error) int {
	switch {
	case serrors.IsScan(err):
		return exitcode.ScanError
	case serrors.IsTransient(err), serrors.IsPermanent(err):
		return exitcode.PartialFailure
	default:
		return exitcode.LedgerError
	}
}

// reportCode maps a finished run to an exit code.
func reportCode(r *stagetypes.SyncReport) int {
	switch {
	case r.TotalFailure():
		return exitcode.TotalFailure
	case r.Failed > 0, r.Cancelled:
		return exitcode.PartialFailure
	default:
		return exitcode.Success
	}
}
