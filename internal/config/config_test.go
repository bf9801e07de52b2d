package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STAGESYNC_ROOT", "/data")
	t.Setenv("STAGESYNC_STAGE_BUCKET", "landing")

	cfg, err := Load("", "", nil)
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.Root)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 0, cfg.Sync.Concurrency)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.Sync.AttemptTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Sync.EvictionWindow)
	assert.Equal(t, time.Hour, cfg.Sync.StaleAfter)
	assert.Equal(t, "s3", cfg.Stage.Kind)
	assert.Equal(t, "landing", cfg.Stage.Bucket)
	assert.Equal(t, "file", cfg.Ledger.Kind)
	assert.Equal(t, ".stagesync/ledger.jsonl", cfg.Ledger.Path)
	assert.Equal(t, "@every 15m", cfg.Watch.Schedule)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	file := writeFile(t, "stagesync.yaml", `
root: /srv/landing
prefix: sales
log:
  level: debug
sync:
  concurrency: 8
  max_attempts: 5
  base_delay: 1s
  max_delay: 1m
  exclude:
    - "**/_tmp/"
stage:
  kind: minio
  bucket: raw
  endpoint: localhost:9000
  access_key_id: minio
  secret_access_key: minio123
ledger:
  kind: redis
  redis_addr: localhost:6379
`)
	t.Setenv("STAGESYNC_SYNC_MAX_ATTEMPTS", "7")
	t.Setenv("STAGESYNC_SYNC_INCLUDE", "source=IN/**,source=US/**")

	cfg, err := Load(file, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "/srv/landing", cfg.Root)
	assert.Equal(t, "sales", cfg.Prefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, 7, cfg.Sync.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Sync.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Sync.MaxDelay)
	assert.Equal(t, []string{"**/_tmp/"}, cfg.Sync.Exclude)
	assert.Equal(t, []string{"source=IN/**", "source=US/**"}, cfg.Sync.Include)
	assert.Equal(t, "minio", cfg.Stage.Kind)
	assert.Equal(t, "localhost:9000", cfg.Stage.Endpoint)
	assert.Equal(t, "redis", cfg.Ledger.Kind)
	assert.Equal(t, "localhost:6379", cfg.Ledger.RedisAddr)
	assert.Equal(t, "stagesync:ledger:", cfg.Ledger.RedisPrefix)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STAGESYNC_ROOT", "/data")
	t.Setenv("STAGESYNC_STAGE_BUCKET", "landing")

	cfg, err := Load("", "", map[string]any{"root": "/override", "ledger.kind": "memory"})
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.Root)
	assert.Equal(t, "memory", cfg.Ledger.Kind)
}

func TestLoadReportsEveryInvalidKey(t *testing.T) {
	t.Setenv("STAGESYNC_STAGE_KIND", "minio")
	t.Setenv("STAGESYNC_LEDGER_KIND", "postgres")

	_, err := Load("", "", nil)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.True(t, verr.Has("stage.bucket"))
	assert.True(t, verr.Has("stage.endpoint"))
	assert.True(t, verr.Has("ledger.postgres_dsn"))
}

func TestLoadDotEnv(t *testing.T) {
	env := writeFile(t, ".env", "STAGESYNC_ROOT=/from/dotenv\nSTAGESYNC_STAGE_KIND=fs\nSTAGESYNC_STAGE_DIR=/tmp/stage\n")
	t.Cleanup(func() {
		os.Unsetenv("STAGESYNC_ROOT")
		os.Unsetenv("STAGESYNC_STAGE_KIND")
		os.Unsetenv("STAGESYNC_STAGE_DIR")
	})

	cfg, err := Load("", env, nil)
	require.NoError(t, err)

	assert.Equal(t, "/from/dotenv", cfg.Root)
	assert.Equal(t, "fs", cfg.Stage.Kind)
	assert.Equal(t, "/tmp/stage", cfg.Stage.Dir)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	t.Setenv("STAGESYNC_ROOT", "/data")
	t.Setenv("STAGESYNC_STAGE_BUCKET", "landing")

	_, err := Load("", filepath.Join(t.TempDir(), ".env"), nil)
	require.NoError(t, err)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "", nil)
	require.Error(t, err)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Root:   "/data",
			Log:    LogConfig{Level: "info", Format: "json"},
			Sync:   SyncConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second},
			Stage:  StageConfig{Kind: "s3", Bucket: "landing"},
			Ledger: LedgerConfig{Kind: "memory"},
			Watch:  WatchConfig{Schedule: "@hourly"},
		}
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantKeys []string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:     "s3 without bucket",
			mutate:   func(c *Config) { c.Stage.Bucket = "" },
			wantKeys: []string{"stage.bucket"},
		},
		{
			name: "fs stage needs dir, not bucket",
			mutate: func(c *Config) {
				c.Stage.Kind = "fs"
				c.Stage.Bucket = ""
			},
			wantKeys: []string{"stage.dir"},
		},
		{
			name:     "minio needs endpoint and keys",
			mutate:   func(c *Config) { c.Stage.Kind = "minio" },
			wantKeys: []string{"stage.endpoint", "stage.access_key_id", "stage.secret_access_key"},
		},
		{
			name:     "unknown stage",
			mutate:   func(c *Config) { c.Stage.Kind = "gcs" },
			wantKeys: []string{"stage.kind"},
		},
		{
			name:     "postgres without dsn",
			mutate:   func(c *Config) { c.Ledger.Kind = "postgres" },
			wantKeys: []string{"ledger.postgres_dsn"},
		},
		{
			name:     "redis without address",
			mutate:   func(c *Config) { c.Ledger.Kind = "redis" },
			wantKeys: []string{"ledger.redis_addr"},
		},
		{
			name:     "zero attempts",
			mutate:   func(c *Config) { c.Sync.MaxAttempts = 0 },
			wantKeys: []string{"sync.max_attempts"},
		},
		{
			name:     "max delay below base delay",
			mutate:   func(c *Config) { c.Sync.MaxDelay = 0 },
			wantKeys: []string{"sync.max_delay"},
		},
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Log.Level = "verbose" },
			wantKeys: []string{"log.level"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := Validate(cfg)
			if len(tt.wantKeys) == 0 {
				require.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Len(t, verr.Fields, len(tt.wantKeys))
			for _, key := range tt.wantKeys {
				assert.True(t, verr.Has(key), "missing %s in %v", key, verr)
			}
		})
	}
}
