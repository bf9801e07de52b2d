package testutil

import (
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs/billy"
)

// NewTree builds an in-memory filesystem holding files, keyed by absolute
// path.
func NewTree(t *testing.T, files map[string]string) *billy.FS {
	t.Helper()
	fsys := billy.NewInMemoryFS()
	WriteFiles(t, fsys, files)
	return fsys
}

// WriteFiles writes files into fsys, creating parent directories.
func WriteFiles(t *testing.T, fsys *billy.FS, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, fsys.MkdirAll(path.Dir(name), 0o755))
		require.NoError(t, fsys.WriteFile(name, []byte(content), 0o644))
	}
}

// SalesTree is a landing directory with one file of each format, each in
// its own partition.
func SalesTree(t *testing.T) *billy.FS {
	t.Helper()
	return NewTree(t, map[string]string{
		"/data/source=IN/format=csv/date=2022-02-22/order.csv":         "order_id,amount\n1,10.5\n2,20.0\n",
		"/data/source=US/format=json/date=2022-02-22/order.json":       `{"order_id":3,"amount":7.25}`,
		"/data/source=EU/format=parquet/date=2022-02-22/order.parquet": "PAR1\x15\x04\x15\x10PAR1",
	})
}
