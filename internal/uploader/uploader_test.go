package uploader

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs/billy"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/classifier"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/testutil"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

func fileRecord(t *testing.T, fsys *billy.FS, local, rel string, pk stagetypes.PartitionKey) stagetypes.FileRecord {
	t.Helper()
	info, err := fsys.Stat(local)
	require.NoError(t, err)
	format, ok := stagetypes.FormatFromName(local)
	require.True(t, ok)
	fp, _, err := classifier.Fingerprint(fsys, local)
	require.NoError(t, err)
	return stagetypes.FileRecord{
		LocalPath:    local,
		RelPath:      rel,
		Format:       format,
		PartitionKey: pk,
		SizeBytes:    info.Size(),
		Fingerprint:  fp,
	}
}

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

func TestRemoteLocation(t *testing.T) {
	pk := stagetypes.PartitionKey{{Key: "source", Value: "IN"}, {Key: "date", Value: "2022-02-22"}}
	tests := []struct {
		name   string
		prefix string
		pk     stagetypes.PartitionKey
		want   string
	}{
		{name: "prefix and partitions", prefix: "landing", pk: pk, want: "landing/source=IN/date=2022-02-22/order.csv"},
		{name: "slashes trimmed", prefix: "/landing/", pk: pk, want: "landing/source=IN/date=2022-02-22/order.csv"},
		{name: "no partitions", prefix: "landing", want: "landing/order.csv"},
		{name: "no prefix", pk: pk, want: "source=IN/date=2022-02-22/order.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := stagetypes.FileRecord{RelPath: "x/order.csv", PartitionKey: tt.pk}
			assert.Equal(t, tt.want, RemoteLocation(tt.prefix, rec))
		})
	}
}

func TestUploadSuccess(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{
		"/data/source=IN/order.csv": "order_id,amount\n1,10\n2,20\n",
	})
	rec := fileRecord(t, fsys, "/data/source=IN/order.csv", "source=IN/order.csv",
		stagetypes.PartitionKey{{Key: "source", Value: "IN"}})
	st := testutil.NewMockStage()
	obs := testutil.NewRecordingObserver()
	cfg := testConfig()
	cfg.Observer = obs

	out := New(st, fsys, cfg).Upload(context.Background(), rec, "landing")

	require.Equal(t, stagetypes.StatusDone, out.Status, out.Reason)
	assert.Equal(t, "landing/source=IN/order.csv", out.RemoteLocation)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, rec.SizeBytes, out.Bytes)
	assert.False(t, out.Aborted)

	data, ok := st.Object("landing/source=IN/order.csv")
	require.True(t, ok)
	assert.Equal(t, "order_id,amount\n1,10\n2,20\n", string(data))

	calls := st.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Options.Overwrite)
	assert.Equal(t, "text/csv", calls[0].Options.ContentType)
	assert.Equal(t, rec.Fingerprint, calls[0].Options.Metadata["fingerprint"])

	assert.Equal(t, 1, obs.Attempts)
	assert.Equal(t, 1, obs.FinishedCount(stagetypes.StatusDone))
}

func TestUploadContentType(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{
		"/d/a.json":    `{"order_id":3,"amount":7.25}`,
		"/d/b.parquet": "\x00\x01\x02\x03",
	})
	st := testutil.NewMockStage()
	u := New(st, fsys, testConfig())

	u.Upload(context.Background(), fileRecord(t, fsys, "/d/a.json", "a.json", nil), "")
	u.Upload(context.Background(), fileRecord(t, fsys, "/d/b.parquet", "b.parquet", nil), "")

	calls := st.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "application/json", calls[0].Options.ContentType)
	assert.Equal(t, stagetypes.FormatParquet.DefaultContentType(), calls[1].Options.ContentType)
}

func TestUploadRetriesTransientThenSucceeds(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)

	var calls atomic.Int32
	st := testutil.NewMockStage()
	st.PutFunc = func(_ context.Context, remote string, _ io.Reader, _ int64, _ stage.PutOptions) error {
		if calls.Add(1) < 3 {
			return serrors.TransientUploadError(remote, errors.New("connection reset"))
		}
		return nil
	}

	var hooks []int
	cfg := testConfig()
	cfg.OnAttempt = func(_ context.Context, _ stagetypes.FileRecord, attempt int) error {
		hooks = append(hooks, attempt)
		return nil
	}

	out := New(st, fsys, cfg).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusDone, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []int{1, 2, 3}, hooks)

	data, ok := st.Object("p/a.csv")
	require.True(t, ok)
	assert.Equal(t, "a,b\n", string(data), "each attempt must resend the whole file")
}

func TestUploadTimeoutExhaustsAttempts(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)

	st := testutil.NewMockStage()
	st.PutFunc = func(ctx context.Context, _ string, _ io.Reader, _ int64, _ stage.PutOptions) error {
		<-ctx.Done()
		return ctx.Err()
	}
	cfg := testConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond

	out := New(st, fsys, cfg).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, st.CallsFor("p/a.csv"))
	assert.True(t, serrors.IsTransient(out.Err))
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Contains(t, out.Reason, "gave up after 3 attempts")
	assert.False(t, out.Aborted)
}

func TestUploadPermanentFailsImmediately(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)

	st := testutil.NewMockStage()
	st.PutFunc = func(_ context.Context, remote string, _ io.Reader, _ int64, _ stage.PutOptions) error {
		return serrors.PermanentUploadError(remote, errors.New("access denied"))
	}

	out := New(st, fsys, testConfig()).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, serrors.IsPermanent(out.Err))
	assert.Contains(t, out.Reason, "access denied")
}

func TestUploadUnclassifiedErrorIsPermanent(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)

	st := testutil.NewMockStage()
	st.PutFunc = func(context.Context, string, io.Reader, int64, stage.PutOptions) error {
		return errors.New("invalid remote path")
	}

	out := New(st, fsys, testConfig()).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, serrors.IsPermanent(out.Err))
}

func TestUploadFileChangedSinceScan(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)
	require.NoError(t, fsys.WriteFile("/d/a.csv", []byte("a,b\n1,2\n"), 0o644))

	st := testutil.NewMockStage()
	out := New(st, fsys, testConfig()).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Contains(t, out.Reason, "changed since scan")
	assert.Empty(t, st.Calls())
}

func TestUploadFileRewrittenWithSameSize(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "id\n1\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)
	require.NoError(t, fsys.WriteFile("/d/a.csv", []byte("id\n9\n"), 0o644))

	st := testutil.NewMockStage()
	out := New(st, fsys, testConfig()).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, serrors.IsPermanent(out.Err))
	assert.Contains(t, out.Reason, "changed since scan")
	assert.Len(t, st.Calls(), 1)
}

// rereadingStage reads the head of each body, seeks back to the start and
// then stores the whole body.
type rereadingStage struct {
	objects map[string][]byte
}

func (s *rereadingStage) Put(_ context.Context, remotePath string, body io.Reader, _ int64, _ stage.PutOptions) error {
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		return errors.New("body is not seekable")
	}
	head := make([]byte, 8)
	if _, err := io.ReadFull(seeker, head); err != nil {
		return err
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(seeker)
	if err != nil {
		return err
	}
	s.objects[remotePath] = data
	return nil
}

func (s *rereadingStage) Exists(_ context.Context, remotePath string) (bool, error) {
	_, ok := s.objects[remotePath]
	return ok, nil
}

func TestUploadVerifiesStagesThatRereadTheBody(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "order_id,amount\n1,10\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)
	st := &rereadingStage{objects: make(map[string][]byte)}

	out := New(st, fsys, testConfig()).Upload(context.Background(), rec, "p")

	require.Equal(t, stagetypes.StatusDone, out.Status, out.Reason)
	assert.Equal(t, "order_id,amount\n1,10\n", string(st.objects["p/a.csv"]))
}

func TestUploadMissingLocalFile(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	rec := stagetypes.FileRecord{LocalPath: "/gone.csv", RelPath: "gone.csv", Format: stagetypes.FormatCSV}

	out := New(testutil.NewMockStage(), fsys, testConfig()).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestUploadCancelledMidRetry(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)

	ctx, cancel := context.WithCancel(context.Background())
	st := testutil.NewMockStage()
	st.PutFunc = func(_ context.Context, remote string, _ io.Reader, _ int64, _ stage.PutOptions) error {
		cancel()
		return serrors.TransientUploadError(remote, errors.New("connection reset"))
	}
	cfg := testConfig()
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = time.Second

	out := New(st, fsys, cfg).Upload(ctx, rec, "p")

	assert.True(t, out.Aborted)
	assert.Equal(t, stagetypes.StatusInProgress, out.Status)
	assert.Equal(t, 1, out.Attempts)
}

func TestUploadHookErrorStops(t *testing.T) {
	fsys := testutil.NewTree(t, map[string]string{"/d/a.csv": "a,b\n"})
	rec := fileRecord(t, fsys, "/d/a.csv", "a.csv", nil)
	hookErr := errors.New("ledger unavailable")

	cfg := testConfig()
	cfg.OnAttempt = func(context.Context, stagetypes.FileRecord, int) error { return hookErr }
	st := testutil.NewMockStage()

	out := New(st, fsys, cfg).Upload(context.Background(), rec, "p")

	assert.Equal(t, stagetypes.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, hookErr)
	assert.Empty(t, st.Calls())
}
