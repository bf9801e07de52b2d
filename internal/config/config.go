// Package config loads the stagesync CLI configuration from an optional YAML
// file, STAGESYNC_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. STAGESYNC_STAGE_BUCKET
// for stage.bucket.
const EnvPrefix = "STAGESYNC"

// Config is the full CLI configuration.
type Config struct {
	// Root is the local directory to stage. Only sync, plan and watch need it
	Root string `mapstructure:"root"`

	// Prefix is prepended to every remote location
	Prefix string `mapstructure:"prefix"`

	Log    LogConfig    `mapstructure:"log"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Stage  StageConfig  `mapstructure:"stage"`
	Ledger LedgerConfig `mapstructure:"ledger"`
	Watch  WatchConfig  `mapstructure:"watch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" default:"json" validate:"oneof=json text"`
}

// SyncConfig mirrors the Syncer options. A zero Concurrency uses
// GOMAXPROCS.
type SyncConfig struct {
	Concurrency    int           `mapstructure:"concurrency" validate:"gte=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" default:"3" validate:"gte=1"`
	BaseDelay      time.Duration `mapstructure:"base_delay" default:"200ms" validate:"gte=0"`
	MaxDelay       time.Duration `mapstructure:"max_delay" default:"10s" validate:"gtefield=BaseDelay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" default:"30s" validate:"gte=0"`
	EvictionWindow time.Duration `mapstructure:"eviction_window" default:"24h" validate:"gte=0"`
	StaleAfter     time.Duration `mapstructure:"stale_after" default:"1h" validate:"gte=0"`
	Include        []string      `mapstructure:"include"`
	Exclude        []string      `mapstructure:"exclude"`
}

// StageConfig selects and configures the remote stage.
type StageConfig struct {
	Kind string `mapstructure:"kind" default:"s3" validate:"oneof=s3 minio fs"`

	// Bucket is used by the s3 and minio stages
	Bucket    string `mapstructure:"bucket" validate:"required_unless=Kind fs"`
	KeyPrefix string `mapstructure:"key_prefix"`
	Region    string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint, and is the MinIO host:port
	Endpoint        string `mapstructure:"endpoint" validate:"required_if=Kind minio"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id" validate:"required_if=Kind minio"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_if=Kind minio"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	CreateBucket    bool   `mapstructure:"create_bucket"`

	// Dir is the target directory of the fs stage
	Dir string `mapstructure:"dir" validate:"required_if=Kind fs"`
}

// LedgerConfig selects and configures the ledger store.
type LedgerConfig struct {
	Kind string `mapstructure:"kind" default:"file" validate:"oneof=file redis postgres memory"`

	Path          string `mapstructure:"path" default:".stagesync/ledger.jsonl" validate:"required_if=Kind file"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Kind redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisPrefix   string `mapstructure:"redis_prefix" default:"stagesync:ledger:"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_if=Kind postgres"`
}

// WatchConfig configures the watch subcommand.
type WatchConfig struct {
	Schedule    string `mapstructure:"schedule" default:"@every 15m" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr" default:":9090"`
}

// FieldError names one configuration key that failed validation.
type FieldError struct {
	Key   string
	Rule  string
	Param string
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s (%s=%s)", f.Key, f.Rule, f.Param)
	}
	return fmt.Sprintf("%s (%s)", f.Key, f.Rule)
}

// ValidationError reports every invalid or missing key.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid configuration: " + strings.Join(parts, ", ")
}

// Has reports whether key failed validation.
func (e *ValidationError) Has(key string) bool {
	for _, f := range e.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Load builds a Config. envFile is loaded first when it exists; variables
// already set in the environment win over it. configFile may be empty.
// Defaults are applied first, then the file, then the environment, then
// overrides, which are keyed like "sync.max_attempts".
func Load(configFile, envFile string, overrides map[string]any) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	defaults.SetDefaults(cfg)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v, reflect.TypeOf(*cfg), ""); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers every leaf key so that Unmarshal sees environment
// values for keys absent from the config file.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := range t.NumField() {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			if err := bindEnv(v, field.Type, key); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks cfg and returns a *ValidationError listing every bad key.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		// Namespace is "Config.stage.bucket"; drop the type name
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		out.Fields = append(out.Fields, FieldError{Key: key, Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}
