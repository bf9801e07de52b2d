// Package stagesync provides functional options for configuring a Syncer.
package stagesync

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/metrics"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// WithConcurrency sets the maximum number of uploads in flight.
// Default is runtime.GOMAXPROCS(0).
func WithConcurrency(n int) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Concurrency = n
	}
}

// WithMaxAttempts sets the total number of attempts per upload, first try
// included. Default is 3.
func WithMaxAttempts(n int) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.MaxAttempts = n
	}
}

// WithBaseDelay sets the backoff before the second attempt. The delay doubles
// for every further attempt.
func WithBaseDelay(d time.Duration) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.BaseDelay = d
	}
}

// WithMaxDelay caps the backoff between attempts.
func WithMaxDelay(d time.Duration) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.MaxDelay = d
	}
}

// WithAttemptTimeout bounds a single upload attempt. An attempt that runs
// out of time counts as a transient failure.
func WithAttemptTimeout(d time.Duration) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.AttemptTimeout = d
	}
}

// WithEvictionWindow sets how long a FAILED record blocks re-upload of the
// same content. Zero retries failed content on every run.
func WithEvictionWindow(d time.Duration) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.EvictionWindow = d
	}
}

// WithStaleAfter sets how long an IN_PROGRESS record may go untouched before
// a run reclaims it. Zero disables reclaiming.
func WithStaleAfter(d time.Duration) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.StaleAfter = d
	}
}

// WithInclude limits scans to paths matching at least one pattern.
// Patterns are matched against the slash-separated path relative to the
// scan root; "**" matches any number of directories.
func WithInclude(patterns ...string) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Include = append(c.Include, patterns...)
	}
}

// WithExclude drops paths matching any pattern from scans.
func WithExclude(patterns ...string) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Exclude = append(c.Exclude, patterns...)
	}
}

// WithFilesystem sets the filesystem local trees are read from.
// Default is the OS filesystem rooted at /.
func WithFilesystem(filesystem fs.Filesystem) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Filesystem = filesystem
	}
}

// WithLogger sets the structured logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Logger = logger
	}
}

// WithObserver sets the receiver of sync events.
// It replaces any observer installed by WithMetrics.
func WithObserver(observer stagetypes.Observer) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Observer = observer
	}
}

// WithMetrics exports sync events as Prometheus metrics registered on reg.
// It replaces any observer installed by WithObserver.
func WithMetrics(reg *prometheus.Registry) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Observer = metrics.New(metrics.WithRegistry(reg))
	}
}

// WithClock sets the time source used for ledger timestamps and windows.
func WithClock(clock func() time.Time) stagetypes.Option {
	return func(c *stagetypes.SyncerConfig) {
		c.Clock = clock
	}
}
