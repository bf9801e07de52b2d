package stagetypes

import (
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs"
)

// Observer receives sync events, typically to export metrics.
type Observer interface {
	FileScanned(format Format, size int64)
	FileSkipped(reason string)
	Planned(action Action)
	UploadAttempt(attempt int)
	UploadFinished(status UploadStatus, bytes int64, d time.Duration)
	Evicted(n int)
}

// SyncerConfig holds configuration for a Syncer.
type SyncerConfig struct {
	// Concurrency bounds the number of uploads in flight
	Concurrency int

	// MaxAttempts is the total attempts per upload, first try included
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt
	BaseDelay time.Duration

	// MaxDelay caps the backoff between attempts
	MaxDelay time.Duration

	// AttemptTimeout bounds a single upload attempt
	AttemptTimeout time.Duration

	// EvictionWindow is how long FAILED records block re-upload
	EvictionWindow time.Duration

	// StaleAfter is how long an IN_PROGRESS record may sit before it is reclaimed
	StaleAfter time.Duration

	Include []string
	Exclude []string

	Filesystem fs.Filesystem
	Logger     *slog.Logger
	Observer   Observer
	Clock      func() time.Time
}

// Option configures a SyncerConfig.
type Option func(*SyncerConfig)

// DefaultSyncerConfig returns the configuration used when no options are given.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Concurrency:    runtime.GOMAXPROCS(0),
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		AttemptTimeout: 30 * time.Second,
		EvictionWindow: 24 * time.Hour,
		StaleAfter:     time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:       NopObserver{},
		Clock:          time.Now,
	}
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) FileScanned(Format, int64)                         {}
func (NopObserver) FileSkipped(string)                                {}
func (NopObserver) Planned(Action)                                    {}
func (NopObserver) UploadAttempt(int)                                 {}
func (NopObserver) UploadFinished(UploadStatus, int64, time.Duration) {}
func (NopObserver) Evicted(int)                                       {}
