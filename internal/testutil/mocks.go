// Package testutil provides test doubles and fixtures shared by the sync
// engine's tests. It is internal and only imported from _test.go files.
package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
)

// PutCall records one Put received by a MockStage.
type PutCall struct {
	RemotePath string
	Size       int64
	Options    stage.PutOptions
}

// MockStage is an in-memory stage.Stage. PutFunc and ExistsFunc override
// the default behavior; when PutFunc is set it receives the body and the
// object is stored only if it returns nil.
type MockStage struct {
	PutFunc    func(ctx context.Context, remotePath string, body io.Reader, size int64, opts stage.PutOptions) error
	ExistsFunc func(ctx context.Context, remotePath string) (bool, error)

	mu      sync.Mutex
	calls   []PutCall
	objects map[string][]byte
}

var _ stage.Stage = (*MockStage)(nil)

// NewMockStage returns an empty MockStage.
func NewMockStage() *MockStage {
	return &MockStage{objects: make(map[string][]byte)}
}

// Put implements stage.Stage.
func (m *MockStage) Put(ctx context.Context, remotePath string, body io.Reader, size int64, opts stage.PutOptions) error {
	m.mu.Lock()
	m.calls = append(m.calls, PutCall{RemotePath: remotePath, Size: size, Options: opts})
	m.mu.Unlock()

	var buf bytes.Buffer
	tee := io.TeeReader(body, &buf)
	if m.PutFunc != nil {
		if err := m.PutFunc(ctx, remotePath, tee, size, opts); err != nil {
			return err
		}
	}
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[remotePath] = buf.Bytes()
	return nil
}

// Exists implements stage.Stage.
func (m *MockStage) Exists(ctx context.Context, remotePath string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, remotePath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[remotePath]
	return ok, nil
}

// Calls returns every Put received, in arrival order.
func (m *MockStage) Calls() []PutCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PutCall(nil), m.calls...)
}

// CallsFor returns the number of Puts received for remotePath.
func (m *MockStage) CallsFor(remotePath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.RemotePath == remotePath {
			n++
		}
	}
	return n
}

// Object returns the stored bytes at remotePath.
func (m *MockStage) Object(remotePath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[remotePath]
	return data, ok
}

// Delete removes a stored object.
func (m *MockStage) Delete(remotePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remotePath)
}

// Keys returns the stored object paths, sorted.
func (m *MockStage) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
