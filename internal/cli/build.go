package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/fs/billy"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/internal/config"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger/redisstore"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/ledger/sqlstore"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage/fsstage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage/miniostage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stage/s3stage"
	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// stageProvider builds the stage named by cfg.Kind on first use.
func stageProvider(cfg config.StageConfig) stage.Provider {
	return stage.ProviderFunc(func(ctx context.Context) (stage.Stage, error) {
		switch cfg.Kind {
		case "s3":
			opts := []s3stage.Option{
				s3stage.WithRegion(cfg.Region),
				s3stage.WithKeyPrefix(cfg.KeyPrefix),
				s3stage.WithForcePathStyle(cfg.ForcePathStyle),
			}
			if cfg.Endpoint != "" {
				opts = append(opts, s3stage.WithEndpoint(cfg.Endpoint))
			}
			if cfg.AccessKeyID != "" {
				opts = append(opts, s3stage.WithStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
			}
			return s3stage.New(ctx, cfg.Bucket, opts...)
		case "minio":
			return miniostage.New(ctx, miniostage.Config{
				Endpoint:     cfg.Endpoint,
				AccessKey:    cfg.AccessKeyID,
				SecretKey:    cfg.SecretAccessKey,
				Bucket:       cfg.Bucket,
				UseSSL:       cfg.UseSSL,
				Region:       cfg.Region,
				CreateBucket: cfg.CreateBucket,
			})
		case "fs":
			dir, err := filepath.Abs(cfg.Dir)
			if err != nil {
				return nil, err
			}
			return fsstage.New(billy.NewOSFS("/"), dir), nil
		default:
			return nil, fmt.Errorf("unknown stage kind %q", cfg.Kind)
		}
	})
}

// openStore opens the ledger store named by cfg.Kind. The returned func
// releases it.
func openStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case "memory":
		return ledger.NewMemoryStore(), noop, nil
	case "file":
		path, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := ledger.OpenFileStore(billy.NewOSFS("/"), path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redisstore.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := sqlstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger kind %q", cfg.Kind)
	}
}

func syncerOptions(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) []stagetypes.Option {
	s := cfg.Sync
	opts := []stagetypes.Option{
		stagesync.WithMaxAttempts(s.MaxAttempts),
		stagesync.WithBaseDelay(s.BaseDelay),
		stagesync.WithMaxDelay(s.MaxDelay),
		stagesync.WithAttemptTimeout(s.AttemptTimeout),
		stagesync.WithEvictionWindow(s.EvictionWindow),
		stagesync.WithStaleAfter(s.StaleAfter),
		stagesync.WithInclude(s.Include...),
		stagesync.WithExclude(s.Exclude...),
		stagesync.WithLogger(logger),
	}
	if s.Concurrency > 0 {
		opts = append(opts, stagesync.WithConcurrency(s.Concurrency))
	}
	if reg != nil {
		opts = append(opts, stagesync.WithMetrics(reg))
	}
	return opts
}
