package stagesync

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	serrors "github.com/input-output-hk/catalyst-forge-libs/stagesync/errors"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs/billy"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/classifier"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/orchestrator"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// Syncer stages local trees into one remote stage, tracking uploads in one
// ledger. It is safe for concurrent use. Syncers in different processes may
// share a redisstore or sqlstore ledger; MemoryStore and FileStore only
// arbitrate within one process.
type Syncer struct {
	stage  stage.Stage
	ledger *ledger.Ledger
	cfg    stagetypes.SyncerConfig

	orchestrator *orchestrator.Orchestrator
}

// New creates a Syncer over st, recording uploads in store.
//
// Example:
//
//	syncer, err := stagesync.New(st, ledger.NewMemoryStore(),
//	    stagesync.WithMaxAttempts(5),
//	    stagesync.WithExclude("**/_tmp/"),
//	)
func New(st stage.Stage, store ledger.Store, opts ...stagetypes.Option) (*Syncer, error) {
	if st == nil {
		return nil, invalidConfig("stage is required")
	}
	if store == nil {
		return nil, invalidConfig("ledger store is required")
	}

	cfg := stagetypes.DefaultSyncerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	l := ledger.New(store, ledger.WithClock(cfg.Clock), ledger.WithLogger(cfg.Logger))
	return &Syncer{
		stage:        st,
		ledger:       l,
		cfg:          cfg,
		orchestrator: orchestrator.New(st, l, cfg),
	}, nil
}

// validate rejects unusable settings and fills in the ones left nil.
func validate(cfg *stagetypes.SyncerConfig) error {
	switch {
	case cfg.Concurrency <= 0:
		return invalidConfig(fmt.Sprintf("concurrency must be positive, got %d", cfg.Concurrency))
	case cfg.MaxAttempts <= 0:
		return invalidConfig(fmt.Sprintf("max attempts must be positive, got %d", cfg.MaxAttempts))
	case cfg.BaseDelay < 0 || cfg.MaxDelay < 0:
		return invalidConfig("backoff delays must not be negative")
	case cfg.MaxDelay > 0 && cfg.MaxDelay < cfg.BaseDelay:
		return invalidConfig(fmt.Sprintf("max delay %s is below base delay %s", cfg.MaxDelay, cfg.BaseDelay))
	case cfg.AttemptTimeout < 0:
		return invalidConfig("attempt timeout must not be negative")
	case cfg.EvictionWindow < 0 || cfg.StaleAfter < 0:
		return invalidConfig("eviction window and stale-after must not be negative")
	}

	if err := classifier.NewPatternMatcher(cfg.Include, cfg.Exclude).Validate(); err != nil {
		return serrors.NewError("configure", serrors.CodeInvalidConfig, err)
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = billy.NewOSFS("/")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Observer == nil {
		cfg.Observer = stagetypes.NopObserver{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return nil
}

func invalidConfig(msg string) error {
	return serrors.NewError("configure", serrors.CodeInvalidConfig, fmt.Errorf("%s", msg))
}

// Config returns the effective configuration.
func (s *Syncer) Config() stagetypes.SyncerConfig {
	return s.cfg
}

// Ledger returns the ledger the Syncer records uploads in.
func (s *Syncer) Ledger() *ledger.Ledger {
	return s.ledger
}
