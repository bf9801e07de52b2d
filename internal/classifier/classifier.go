// Package classifier discovers stageable files under a local directory.
// It maps each file to a format by extension and a partition key by the
// key=value directories between the scan root and the file.
//
// A Scan is restartable: every call to Records walks the tree again, so the
// filesystem is never treated as state.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Config holds classifier settings.
type Config struct {
	Include  []string
	Exclude  []string
	Logger   *slog.Logger
	Observer stagetypes.Observer
}

// Classifier scans a filesystem for stageable files.
type Classifier struct {
	filesystem fs.Filesystem
	matcher    *PatternMatcher
	logger     *slog.Logger
	observer   stagetypes.Observer
}

// New creates a classifier over filesystem.
func New(filesystem fs.Filesystem, cfg Config) *Classifier {
	c := &Classifier{
		filesystem: filesystem,
		matcher:    NewPatternMatcher(cfg.Include, cfg.Exclude),
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.observer == nil {
		c.observer = stagetypes.NopObserver{}
	}
	return c
}

// Scan checks that root is a readable directory and returns a handle that
// can be iterated any number of times. It fails with a scan error when root
// does not exist or cannot be read.
func (c *Classifier) Scan(ctx context.Context, root string) (*Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.matcher.Validate(); err != nil {
		return nil, serrors.NewError("scan", serrors.CodeInvalidConfig, err)
	}

	root = filepath.Clean(root)
	info, err := c.filesystem.Stat(root)
	if err != nil {
		return nil, serrors.ScanError(root, err)
	}
	if !info.IsDir() {
		return nil, serrors.ScanError(root, errors.New("not a directory"))
	}
	if _, err := c.filesystem.ReadDir(root); err != nil {
		return nil, serrors.ScanError(root, err)
	}

	return &Scan{classifier: c, root: root}, nil
}

// Scan is a restartable view of the files under one root.
type Scan struct {
	classifier *Classifier
	root       string

	mu      sync.Mutex
	skipped []stagetypes.SkippedFile
}

// Root returns the cleaned scan root.
func (s *Scan) Root() string {
	return s.root
}

// Skipped returns the files skipped by the most recently completed pass.
func (s *Scan) Skipped() []stagetypes.SkippedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stagetypes.SkippedFile(nil), s.skipped...)
}

var errStop = errors.New("iteration stopped")

// Records lazily walks the tree and yields one FileRecord per recognized
// file. Unreadable entries are recorded as skipped and never yielded as
// errors; a non-nil error means the walk itself failed and iteration ends.
func (s *Scan) Records(ctx context.Context) iter.Seq2[stagetypes.FileRecord, error] {
	return func(yield func(stagetypes.FileRecord, error) bool) {
		var skipped []stagetypes.SkippedFile
		skip := func(path, reason string) {
			skipped = append(skipped, stagetypes.SkippedFile{Path: path, Reason: reason})
			s.classifier.observer.FileSkipped(reason)
		}

		err := s.classifier.filesystem.Walk(s.root, func(path string, info os.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if path == s.root {
					return serrors.ScanError(s.root, err)
				}
				s.classifier.logger.Warn("skipping unreadable path", "path", path, "error", err)
				skip(path, stagetypes.SkipReasonUnreadable)
				return nil
			}
			if info.IsDir() {
				return nil
			}

			record, reason, err := s.classify(path, info)
			if err != nil {
				s.classifier.logger.Warn("skipping unreadable file", "path", path, "error", err)
				skip(path, reason)
				return nil
			}
			if reason != "" {
				s.classifier.logger.Debug("skipping file", "path", path, "reason", reason)
				skip(path, reason)
				return nil
			}

			s.classifier.observer.FileScanned(record.Format, record.SizeBytes)
			if !yield(record, nil) {
				return errStop
			}
			return nil
		})

		s.mu.Lock()
		s.skipped = skipped
		s.mu.Unlock()

		switch {
		case err == nil, errors.Is(err, errStop):
		case serrors.IsScan(err):
			yield(stagetypes.FileRecord{}, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			yield(stagetypes.FileRecord{}, err)
		default:
			yield(stagetypes.FileRecord{}, serrors.ScanError(s.root, err))
		}
	}
}

// Collect drains Records into a slice.
func (s *Scan) Collect(ctx context.Context) ([]stagetypes.FileRecord, error) {
	var out []stagetypes.FileRecord
	for record, err := range s.Records(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

// classify returns a record, or a skip reason when the file is not stageable.
func (s *Scan) classify(path string, info os.FileInfo) (stagetypes.FileRecord, string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return stagetypes.FileRecord{}, stagetypes.SkipReasonUnreadable,
			fmt.Errorf("failed to get relative path for %s: %w", path, err)
	}
	rel = filepath.ToSlash(rel)

	if !s.classifier.matcher.Match(rel) {
		return stagetypes.FileRecord{}, stagetypes.SkipReasonExcluded, nil
	}

	format, ok := stagetypes.FormatFromName(rel)
	if !ok {
		return stagetypes.FileRecord{}, stagetypes.SkipReasonUnknownFormat, nil
	}

	fingerprint, size, err := Fingerprint(s.classifier.filesystem, path)
	if err != nil {
		return stagetypes.FileRecord{}, stagetypes.SkipReasonUnreadable, err
	}

	return stagetypes.FileRecord{
		LocalPath:    path,
		RelPath:      rel,
		Format:       format,
		PartitionKey: ParsePartitionKey(rel),
		SizeBytes:    size,
		Fingerprint:  fingerprint,
		ModTime:      info.ModTime(),
	}, "", nil
}
