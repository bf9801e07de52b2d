package billy

import (
	"io/fs"

	"github.com/go-git/go-billy/v5"
)

// file adds Stat to a billy.File, which has none.
type file struct {
	billy.File
	fs billy.Filesystem
}

func (f *file) Stat() (fs.FileInfo, error) {
	info, err := f.fs.Stat(f.Name())
	return info, pathError("stat", f.Name(), err)
}
