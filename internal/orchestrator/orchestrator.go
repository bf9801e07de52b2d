// Package orchestrator runs sync passes: it classifies a local tree, plans
// each file against the ledger and dispatches uploads to a bounded pool of
// workers.
//
// Per-file failures never abort a run. Only a scan failure on the root
// directory or a ledger failure that is not a conflict or an illegal
// transition stops the run with an error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/classifier"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/planner"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/uploader"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Orchestrator owns one stage handle and one ledger.
type Orchestrator struct {
	stage  stage.Stage
	ledger *ledger.Ledger
	cfg    stagetypes.SyncerConfig
	logger *slog.Logger

	classifier *classifier.Classifier
	uploader   *uploader.Uploader
}

// New wires an Orchestrator. cfg must carry a Filesystem; zero-valued
// settings are not defaulted here.
func New(st stage.Stage, l *ledger.Ledger, cfg stagetypes.SyncerConfig) *Orchestrator {
	o := &Orchestrator{
		stage:  st,
		ledger: l,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	o.classifier = classifier.New(cfg.Filesystem, classifier.Config{
		Include:  cfg.Include,
		Exclude:  cfg.Exclude,
		Logger:   cfg.Logger,
		Observer: cfg.Observer,
	})

	ucfg := uploader.ConfigFrom(cfg)
	ucfg.OnAttempt = o.recordAttempt
	o.uploader = uploader.New(st, cfg.Filesystem, ucfg)
	return o
}

// ledgerHookError marks a ledger failure raised from inside an upload.
type ledgerHookError struct {
	err error
}

func (e *ledgerHookError) Error() string { return e.err.Error() }
func (e *ledgerHookError) Unwrap() error { return e.err }

func (o *Orchestrator) recordAttempt(ctx context.Context, rec stagetypes.FileRecord, _ int) error {
	if _, err := o.ledger.RecordAttempt(ctx, rec.Fingerprint); err != nil {
		return &ledgerHookError{err: err}
	}
	return nil
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// plan scans root and joins the result against the ledger as of now.
func (o *Orchestrator) plan(ctx context.Context, root, prefix string, now time.Time) (*stagetypes.SyncPlan, error) {
	abs, err := fs.Abs(o.cfg.Filesystem, root)
	if err != nil {
		return nil, serrors.ScanError(root, err)
	}
	scan, err := o.classifier.Scan(ctx, abs)
	if err != nil {
		return nil, err
	}

	p := planner.New(o.ledger, o.cfg.EvictionWindow, func() time.Time { return now }, o.cfg.Observer)
	plan, err := p.Plan(ctx, scan.Records(ctx), prefix)
	if err != nil {
		return nil, err
	}
	plan.ScanSkipped = scan.Skipped()
	return plan, nil
}

// Plan classifies root and returns what Run would do, without touching the
// ledger or the stage.
func (o *Orchestrator) Plan(ctx context.Context, root, prefix string) (*stagetypes.SyncPlan, error) {
	return o.plan(ctx, root, prefix, o.cfg.Clock())
}

// Run performs one sync pass of root into prefix.
//
// FAILED records older than the eviction window are evicted and stale
// IN_PROGRESS records are reclaimed before scanning. When ctx is cancelled
// no further uploads are dispatched; uploads already running finish or
// abort, and aborted ones stay IN_PROGRESS in the ledger. The report is
// returned with Cancelled set and a nil error in that case.
func (o *Orchestrator) Run(ctx context.Context, root, prefix string) (*stagetypes.SyncReport, error) {
	start := time.Now()
	report := &stagetypes.SyncReport{RunID: newRunID()}
	logger := o.logger.With("run_id", report.RunID)
	defer func() { report.Duration = time.Since(start) }()

	// taken before eviction so the planner never sees a record eviction skipped as stale
	now := o.cfg.Clock()

	evicted, err := o.ledger.EvictFailed(ctx, o.cfg.EvictionWindow)
	if err != nil {
		return report, o.fatal(ctx, report, fmt.Errorf("evict failed records: %w", err))
	}
	if evicted > 0 {
		o.cfg.Observer.Evicted(evicted)
		logger.Info("evicted failed records", "count", evicted)
	}

	if o.cfg.StaleAfter > 0 {
		reclaimed, err := o.ledger.ReclaimStale(ctx, o.cfg.StaleAfter)
		if err != nil {
			return report, o.fatal(ctx, report, fmt.Errorf("reclaim stale records: %w", err))
		}
		if reclaimed > 0 {
			logger.Info("reclaimed stale in-progress records", "count", reclaimed)
		}
	}

	plan, err := o.plan(ctx, root, prefix, now)
	if err != nil {
		return report, o.fatal(ctx, report, err)
	}
	report.ScanSkipped = plan.ScanSkipped
	report.Skipped = plan.Count(stagetypes.ActionSkip)
	for _, e := range plan.Entries {
		if e.Action == stagetypes.ActionSkip {
			logger.Debug("skipping file", "path", e.Record.RelPath, "reason", e.Reason)
		}
	}

	dispatchable := plan.Dispatchable()
	logger.Info("dispatching uploads",
		"root", root,
		"prefix", prefix,
		"files", len(plan.Entries),
		"dispatch", len(dispatchable),
		"skipped", report.Skipped,
	)

	if err := o.dispatch(ctx, logger, dispatchable, report); err != nil {
		return report, err
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Record.RelPath < report.Failures[j].Record.RelPath
	})
	logger.Info("sync finished",
		"uploaded", report.Uploaded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"aborted", report.Aborted,
		"cancelled", report.Cancelled,
		"bytes", report.BytesUploaded,
	)
	return report, nil
}

// fatal turns cancellation into a cancelled report and passes anything else
// through.
func (o *Orchestrator) fatal(ctx context.Context, report *stagetypes.SyncReport, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		report.Cancelled = true
		return nil
	}
	return err
}

// result is the effect of one dispatched entry on the report.
type result struct {
	entry    stagetypes.PlanEntry
	outcome  stagetypes.UploadOutcome
	skipped  bool
	conflict bool
	dropped  bool
	reason   string
	failed   bool
}

func (o *Orchestrator) dispatch(
	ctx context.Context,
	logger *slog.Logger,
	entries []stagetypes.PlanEntry,
	report *stagetypes.SyncReport,
) error {
	var (
		mu      sync.Mutex
		stopped atomic.Bool
		g       errgroup.Group
	)
	g.SetLimit(max(o.cfg.Concurrency, 1))

	for _, entry := range entries {
		if ctx.Err() != nil || stopped.Load() {
			break
		}
		g.Go(func() error {
			res, err := o.process(ctx, logger, entry)
			if err != nil {
				stopped.Store(true)
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			apply(report, res)
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		report.Cancelled = true
	}
	if err != nil {
		return o.fatal(ctx, report, err)
	}
	return nil
}

func apply(report *stagetypes.SyncReport, res result) {
	switch {
	case res.dropped:
		report.Cancelled = true
	case res.conflict:
		report.Conflicts++
		report.Skipped++
	case res.skipped:
		report.Skipped++
	case res.outcome.Aborted:
		report.Aborted++
		report.Cancelled = true
	case res.failed:
		report.Failed++
		report.Failures = append(report.Failures, stagetypes.Failure{
			Record: res.entry.Record,
			Reason: res.reason,
		})
	default:
		report.Uploaded++
		report.BytesUploaded += res.outcome.Bytes
	}
}

// process moves one entry through PENDING -> IN_PROGRESS -> DONE|FAILED.
// The returned error is run-fatal.
func (o *Orchestrator) process(ctx context.Context, logger *slog.Logger, entry stagetypes.PlanEntry) (result, error) {
	rec := entry.Record
	res := result{entry: entry}
	logger = logger.With("path", rec.RelPath, "fingerprint", rec.Fingerprint, "action", entry.Action)

	if ctx.Err() != nil {
		res.dropped = true
		return res, nil
	}

	if _, err := o.ledger.MarkPending(ctx, rec.Fingerprint, entry.RemoteLocation, rec.LocalPath); err != nil {
		return o.claimFailed(ctx, logger, res, err)
	}
	if _, err := o.ledger.MarkInProgress(ctx, rec.Fingerprint, entry.RemoteLocation); err != nil {
		return o.claimFailed(ctx, logger, res, err)
	}

	res.outcome = o.uploader.UploadTo(ctx, rec, entry.RemoteLocation)
	// ledger writes after the upload must land even if ctx was cancelled meanwhile
	finalCtx := context.WithoutCancel(ctx)

	var hookErr *ledgerHookError
	if errors.As(res.outcome.Err, &hookErr) {
		if serrors.IsState(hookErr.err) || serrors.IsConflict(hookErr.err) {
			logger.Warn("ledger record changed during upload", "error", hookErr.err)
			res.failed = true
			res.reason = hookErr.err.Error()
			return res, nil
		}
		return res, hookErr.err
	}

	switch res.outcome.Status {
	case stagetypes.StatusDone:
		if err := o.ledger.MarkDone(finalCtx, rec.Fingerprint); err != nil {
			if !serrors.IsState(err) {
				return res, err
			}
			logger.Error("uploaded but could not mark done", "error", err)
			res.failed = true
			res.reason = err.Error()
		}
	case stagetypes.StatusFailed:
		res.failed = true
		res.reason = res.outcome.Reason
		if err := o.ledger.MarkFailed(finalCtx, rec.Fingerprint, res.outcome.Reason); err != nil {
			if !serrors.IsState(err) {
				return res, err
			}
			logger.Error("could not mark failed", "error", err)
		}
	default:
		logger.Info("upload aborted, record left in progress")
	}
	return res, nil
}

// claimFailed classifies a ledger error raised while claiming a record.
func (o *Orchestrator) claimFailed(
	ctx context.Context,
	logger *slog.Logger,
	res result,
	err error,
) (result, error) {
	switch {
	case serrors.IsConflict(err):
		logger.Info("upload already in progress elsewhere, yielding")
		res.conflict = true
		return res, nil
	case serrors.IsState(err):
		cur, ok, lookupErr := o.ledger.Lookup(ctx, res.entry.Record.Fingerprint)
		if lookupErr == nil && ok && cur.Status == stagetypes.StatusDone {
			logger.Info("content staged concurrently, skipping")
			res.skipped = true
			return res, nil
		}
		logger.Error("illegal ledger transition", "error", err)
		res.failed = true
		res.reason = err.Error()
		return res, nil
	case ctx.Err() != nil:
		res.dropped = true
		return res, nil
	default:
		return res, err
	}
}

// Evict resets FAILED records last attempted at least olderThan ago.
func (o *Orchestrator) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := o.ledger.EvictFailed(ctx, olderThan)
	if err != nil {
		return n, err
	}
	o.cfg.Observer.Evicted(n)
	o.logger.Info("evicted failed records", "count", n, "older_than", olderThan)
	return n, nil
}

// Verify checks that every DONE record's object is present on the stage.
func (o *Orchestrator) Verify(ctx context.Context) (*stagetypes.VerifyResult, error) {
	records, err := o.ledger.Records(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		result stagetypes.VerifyResult
		g      errgroup.Group
	)
	g.SetLimit(max(o.cfg.Concurrency, 1))
	for _, rec := range records {
		if rec.Status != stagetypes.StatusDone {
			continue
		}
		result.Checked++
		g.Go(func() error {
			ok, err := o.stage.Exists(ctx, rec.RemoteLocation)
			if err != nil {
				return fmt.Errorf("check %s: %w", rec.RemoteLocation, err)
			}
			if !ok {
				o.logger.Warn("staged object missing", "fingerprint", rec.Fingerprint, "remote", rec.RemoteLocation)
				mu.Lock()
				result.Missing = append(result.Missing, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Missing, func(i, j int) bool {
		return result.Missing[i].Fingerprint < result.Missing[j].Fingerprint
	})
	return &result, nil
}
