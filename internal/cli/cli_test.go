package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/exitcode"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

const csvRemote = "landing/source=IN/format=csv/date=2022-02-22/order.csv"

type harness struct {
	app    *App
	stage  *testutil.MockStage
	store  *ledger.MemoryStore
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("STAGESYNC_STAGE_KIND", "fs")
	t.Setenv("STAGESYNC_STAGE_DIR", t.TempDir())
	t.Setenv("STAGESYNC_LEDGER_KIND", "memory")
	t.Setenv("STAGESYNC_ROOT", "/data")
	t.Setenv("STAGESYNC_PREFIX", "landing")
	t.Setenv("STAGESYNC_SYNC_BASE_DELAY", "1ms")
	t.Setenv("STAGESYNC_SYNC_MAX_DELAY", "2ms")
	t.Setenv("STAGESYNC_LOG_LEVEL", "error")

	h := &harness{
		stage:  testutil.NewMockStage(),
		store:  ledger.NewMemoryStore(),
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
	}
	h.app = &App{
		Stdout:     h.stdout,
		Stderr:     h.stderr,
		Stages:     stage.Static(h.stage),
		Store:      h.store,
		Filesystem: testutil.SalesTree(t),
	}
	return h
}

func (h *harness) run(ctx context.Context, args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.Run(ctx, append([]string{"-env-file", ""}, args...))
}

func failOn(remote string) func(context.Context, string, io.Reader, int64, stage.PutOptions) error {
	return func(_ context.Context, remotePath string, _ io.Reader, _ int64, _ stage.PutOptions) error {
		if remote == "" || remotePath == remote {
			return serrors.PermanentUploadError(remotePath, errors.New("access denied"))
		}
		return nil
	}
}

func TestRunUsage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, exitcode.ConfigError, h.run(ctx))
	assert.Contains(t, h.stderr.String(), "Usage: stagesync")

	assert.Equal(t, exitcode.Success, h.run(ctx, "-h"))
	assert.Equal(t, exitcode.ConfigError, h.run(ctx, "upload"))
	assert.Contains(t, h.stderr.String(), `unknown command "upload"`)
	assert.Equal(t, exitcode.ConfigError, h.run(ctx, "sync", "-bogus"))
}

func TestRunConfigErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Setenv("STAGESYNC_ROOT", "")
	assert.Equal(t, exitcode.ConfigError, h.run(ctx, "sync"))
	assert.Contains(t, h.stderr.String(), "root (required)")

	t.Setenv("STAGESYNC_STAGE_KIND", "gcs")
	assert.Equal(t, exitcode.ConfigError, h.run(ctx, "verify"))
	assert.Contains(t, h.stderr.String(), "stage.kind")
}

func TestSyncThenPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, exitcode.Success, h.run(ctx, "plan"))
	assert.Contains(t, h.stdout.String(), "3 to upload, 0 to retry, 0 to skip")
	assert.Contains(t, h.stdout.String(), csvRemote)
	assert.Empty(t, h.stage.Keys())

	require.Equal(t, exitcode.Success, h.run(ctx, "sync"))
	assert.Contains(t, h.stdout.String(), "uploaded 3, skipped 0, failed 0")
	assert.Len(t, h.stage.Keys(), 3)

	require.Equal(t, exitcode.Success, h.run(ctx, "plan"))
	assert.Contains(t, h.stdout.String(), "0 to upload, 0 to retry, 3 to skip")

	require.Equal(t, exitcode.Success, h.run(ctx, "sync"))
	assert.Contains(t, h.stdout.String(), "uploaded 0, skipped 3, failed 0")
}

func TestSyncPrefixFlag(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, exitcode.Success, h.run(context.Background(), "sync", "-prefix", "archive"))
	assert.Contains(t, h.stage.Keys(), "archive/source=IN/format=csv/date=2022-02-22/order.csv")
}

func TestSyncExitCodes(t *testing.T) {
	t.Run("partial failure", func(t *testing.T) {
		h := newHarness(t)
		h.stage.PutFunc = failOn(csvRemote)

		assert.Equal(t, exitcode.PartialFailure, h.run(context.Background(), "sync"))
		assert.Contains(t, h.stdout.String(), "FAILED\tsource=IN/format=csv/date=2022-02-22/order.csv")
	})

	t.Run("total failure", func(t *testing.T) {
		h := newHarness(t)
		h.stage.PutFunc = failOn("")

		assert.Equal(t, exitcode.TotalFailure, h.run(context.Background(), "sync"))
	})

	t.Run("scan failure", func(t *testing.T) {
		h := newHarness(t)

		assert.Equal(t, exitcode.ScanError, h.run(context.Background(), "sync", "-root", "/missing"))
	})
}

func TestEvictAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.stage.PutFunc = failOn(csvRemote)

	require.Equal(t, exitcode.PartialFailure, h.run(ctx, "sync"))

	require.Equal(t, exitcode.Success, h.run(ctx, "evict", "-older-than", "0s"))
	assert.Contains(t, h.stdout.String(), "evicted 1 failed records")

	h.stage.PutFunc = nil
	require.Equal(t, exitcode.Success, h.run(ctx, "sync"))
	assert.Contains(t, h.stdout.String(), "uploaded 1, skipped 2, failed 0")

	require.Equal(t, exitcode.Success, h.run(ctx, "verify"))
	assert.Contains(t, h.stdout.String(), "checked 3, missing 0")

	h.stage.Delete(csvRemote)
	require.Equal(t, exitcode.PartialFailure, h.run(ctx, "verify"))
	assert.Contains(t, h.stdout.String(), "MISSING\t"+csvRemote)
}

func TestWatch(t *testing.T) {
	h := newHarness(t)
	t.Setenv("STAGESYNC_WATCH_SCHEDULE", "@every 1h")
	t.Setenv("STAGESYNC_WATCH_METRICS_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() {
		done <- h.app.Run(ctx, []string{"-env-file", "", "watch"})
	}()

	require.Eventually(t, func() bool {
		return len(h.stage.Keys()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, exitcode.Success, code)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatchInvalidSchedule(t *testing.T) {
	h := newHarness(t)
	t.Setenv("STAGESYNC_WATCH_SCHEDULE", "every now and then")
	t.Setenv("STAGESYNC_WATCH_METRICS_ADDR", "")

	assert.Equal(t, exitcode.ConfigError, h.run(context.Background(), "watch"))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"scan", serrors.ScanError("/data", errors.New("no such directory")), exitcode.ScanError},
		{"stage", serrors.TransientUploadError("a/b.csv", errors.New("timeout")), exitcode.PartialFailure},
		{"ledger", serrors.LedgerCorruptError("abc", errors.New("bad json")), exitcode.LedgerError},
		{"store", fmt.Errorf("ledger list: %w", errors.New("connection refused")), exitcode.LedgerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestReportCode(t *testing.T) {
	tests := []struct {
		name   string
		report stagetypes.SyncReport
		want   int
	}{
		{"clean", stagetypes.SyncReport{Uploaded: 2, Skipped: 1}, exitcode.Success},
		{"nothing to do", stagetypes.SyncReport{Skipped: 3}, exitcode.Success},
		{"partial", stagetypes.SyncReport{Uploaded: 2, Failed: 1}, exitcode.PartialFailure},
		{"failed with skips", stagetypes.SyncReport{Skipped: 2, Failed: 1}, exitcode.PartialFailure},
		{"total", stagetypes.SyncReport{Failed: 3}, exitcode.TotalFailure},
		{"cancelled", stagetypes.SyncReport{Uploaded: 1, Cancelled: true}, exitcode.PartialFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reportCode(&tt.report))
		})
	}
}
