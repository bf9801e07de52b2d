// Package stage defines the remote staging area that files are uploaded to.
//
// A Stage is deliberately narrow: the sync engine only needs to put bytes at a
// path and ask whether a path exists. Bindings live in sub-packages (s3stage,
// miniostage, fsstage); callers construct an authenticated Stage and hand it
// to the engine, which never manages credentials itself.
package stage

import (
	"context"
	"io"
)

// PutOptions controls a single Put.
type PutOptions struct {
	// Overwrite replaces an existing object. When false, Put fails with a
	// permanent error if the object already exists.
	Overwrite bool

	// ContentType is stored with the object when the binding supports it
	ContentType string

	// Metadata is stored as user metadata when the binding supports it
	Metadata map[string]string
}

// Stage is an object-store-like staging area.
type Stage interface {
	// Put writes size bytes read from body to remotePath.
	Put(ctx context.Context, remotePath string, body io.Reader, size int64, opts PutOptions) error

	// Exists reports whether an object is present at remotePath.
	Exists(ctx context.Context, remotePath string) (bool, error)
}

// Provider supplies an authenticated Stage.
type Provider interface {
	Stage(ctx context.Context) (Stage, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (Stage, error)

// Stage implements Provider.
func (f ProviderFunc) Stage(ctx context.Context) (Stage, error) {
	return f(ctx)
}

// Static returns a Provider that always hands out s.
func Static(s Stage) Provider {
	return ProviderFunc(func(context.Context) (Stage, error) {
		return s, nil
	})
}
