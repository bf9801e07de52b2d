// Package billy backs fs.Filesystem with go-billy. Syncs and the file ledger
// run on osfs; tests run on memfs.
package billy

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	parentfs "github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
)

// FS adapts a billy.Filesystem.
type FS struct {
	fs billy.Filesystem
	// cwd is set when relative paths resolve against the working directory
	cwd bool
}

var (
	_ parentfs.Filesystem = (*FS)(nil)
	_ parentfs.Resolver   = (*FS)(nil)
)

// New wraps fsys.
func New(fsys billy.Filesystem) *FS {
	return &FS{fs: fsys}
}

// NewInMemoryFS returns an empty in-memory filesystem.
func NewInMemoryFS() *FS {
	return New(memfs.New())
}

// NewOSFS returns the OS filesystem rooted at root. Only an FS rooted at the
// system root resolves relative paths against the working directory.
func NewOSFS(root string) *FS {
	b := New(osfs.New(root))
	b.cwd = filepath.Clean(root) == string(filepath.Separator)
	return b
}

// Abs implements fs.Resolver. Outside the system root a relative path is
// taken from the root of the filesystem.
func (b *FS) Abs(path string) (string, error) {
	if b.cwd {
		return parentfs.GetAbs(path)
	}
	return filepath.Join(string(filepath.Separator), path), nil
}

// pathError gives bare billy errors (memfs returns plain os.ErrNotExist)
// the operation and path, keeping errors.Is(err, fs.ErrNotExist) working.
func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

func (b *FS) wrap(f billy.File, err error, op, name string) (parentfs.File, error) {
	if err != nil {
		return nil, pathError(op, name, err)
	}
	return &file{File: f, fs: b.fs}, nil
}

func (b *FS) Open(name string) (parentfs.File, error) {
	f, err := b.fs.Open(name)
	return b.wrap(f, err, "open", name)
}

func (b *FS) OpenFile(name string, flag int, perm os.FileMode) (parentfs.File, error) {
	f, err := b.fs.OpenFile(name, flag, perm)
	return b.wrap(f, err, "open", name)
}

// Exists reports whether path exists. Errors other than not-exist are
// returned.
func (b *FS) Exists(path string) (bool, error) {
	_, err := b.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, pathError("stat", path, err)
}

func (b *FS) Stat(name string) (os.FileInfo, error) {
	info, err := b.fs.Stat(name)
	return info, pathError("stat", name, err)
}

func (b *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := b.fs.ReadDir(dirname)
	return entries, pathError("readdir", dirname, err)
}

func (b *FS) ReadFile(path string) ([]byte, error) {
	data, err := util.ReadFile(b.fs, path)
	return data, pathError("read", path, err)
}

func (b *FS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return pathError("write", filename, util.WriteFile(b.fs, filename, data, perm))
}

func (b *FS) MkdirAll(path string, perm os.FileMode) error {
	return pathError("mkdir", path, b.fs.MkdirAll(path, perm))
}

func (b *FS) Remove(name string) error {
	return pathError("remove", name, b.fs.Remove(name))
}

// Rename moves oldpath to newpath, replacing newpath if it exists.
func (b *FS) Rename(oldpath, newpath string) error {
	if err := b.fs.Rename(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}

// Walk visits root and everything below it in lexical order. Errors from
// walkFn come back unwrapped, so filepath.SkipDir works.
func (b *FS) Walk(root string, walkFn filepath.WalkFunc) error {
	return util.Walk(b.fs, root, walkFn)
}
