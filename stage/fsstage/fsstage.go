// Package fsstage is a Stage backed by a directory on an fs.Filesystem. It
// is used for local dry runs and as the in-memory stage in tests.
package fsstage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync/atomic"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs/billy"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
)

// Stage writes objects below root on a filesystem.
type Stage struct {
	fs   fs.Filesystem
	root string
	seq  atomic.Uint64
}

var _ stage.Stage = (*Stage)(nil)

// New returns a Stage rooted at root on filesystem.
func New(filesystem fs.Filesystem, root string) *Stage {
	return &Stage{fs: filesystem, root: path.Clean("/" + strings.Trim(root, "/"))}
}

// NewInMemory returns a Stage on a fresh in-memory filesystem.
func NewInMemory() *Stage {
	return New(billy.NewInMemoryFS(), "/")
}

// Filesystem returns the backing filesystem.
func (s *Stage) Filesystem() fs.Filesystem {
	return s.fs
}

// Path returns the filesystem path an object is stored at.
func (s *Stage) Path(remotePath string) string {
	return path.Join(s.root, path.Clean("/"+remotePath))
}

// Put implements stage.Stage. The object is written to a temporary file
// first and renamed into place, so readers never see a partial object.
func (s *Stage) Put(ctx context.Context, remotePath string, body io.Reader, size int64, opts stage.PutOptions) error {
	if err := ctx.Err(); err != nil {
		return serrors.Wrap(remotePath, serrors.Classify(err), err)
	}

	target := s.Path(remotePath)
	if !opts.Overwrite {
		exists, err := s.fs.Exists(target)
		if err != nil {
			return serrors.PermanentUploadError(remotePath, err)
		}
		if exists {
			return serrors.PermanentUploadError(remotePath, errors.New("object already exists"))
		}
	}

	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return serrors.PermanentUploadError(remotePath, err)
	}

	tmp := fmt.Sprintf("%s.part-%d", target, s.seq.Add(1))
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return serrors.PermanentUploadError(remotePath, err)
	}

	n, copyErr := io.Copy(f, &ctxReader{ctx: ctx, r: body})
	closeErr := f.Close()
	if copyErr == nil && closeErr == nil && size >= 0 && n != size {
		copyErr = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = s.fs.Remove(tmp)
		return serrors.Wrap(remotePath, serrors.Classify(err), err)
	}

	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return serrors.PermanentUploadError(remotePath, err)
	}
	return nil
}

// Exists implements stage.Stage.
func (s *Stage) Exists(_ context.Context, remotePath string) (bool, error) {
	return s.fs.Exists(s.Path(remotePath))
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
