// Package fs is the filesystem seam of the sync engine. Local trees are
// scanned through it, the file ledger journals through it and the directory
// stage writes through it, so all three run unchanged on an in-memory tree.
package fs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Filesystem is the subset of filesystem operations the sync engine needs.
type Filesystem interface {
	Exists(path string) (bool, error)
	MkdirAll(path string, perm os.FileMode) error
	Open(name string) (File, error)
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	ReadDir(dirname string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	Walk(root string, walkFn filepath.WalkFunc) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
}

// File is an open file. Uploads read and rewind it, the journal appends
// to it.
type File interface {
	io.ReadWriteSeeker
	io.Closer
	Name() string
	Stat() (fs.FileInfo, error)
}

// Resolver is implemented by filesystems that do not resolve relative paths
// against the process working directory.
type Resolver interface {
	Abs(path string) (string, error)
}

// Abs returns path as an absolute path on fsys. Filesystems that are not a
// Resolver resolve against the working directory.
func Abs(fsys Filesystem, path string) (string, error) {
	if r, ok := fsys.(Resolver); ok {
		return r.Abs(path)
	}
	return GetAbs(path)
}

// GetAbs returns path as an absolute, cleaned path.
func GetAbs(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	return filepath.Abs(path)
}
