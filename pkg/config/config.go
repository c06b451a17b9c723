// Package config loads lake configuration from a YAML file and
// SINGERLAKE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eunmann/singerlake/pkg/datafile"
	"github.com/eunmann/singerlake/pkg/lakeerr"
	"github.com/eunmann/singerlake/pkg/lakepath"
	"github.com/eunmann/singerlake/pkg/lock"
	"github.com/eunmann/singerlake/pkg/partition"
	"github.com/eunmann/singerlake/pkg/storage"
)

// EnvPrefix prefixes environment overrides, e.g. SINGERLAKE_STORE_STORE_TYPE.
const EnvPrefix = "SINGERLAKE"

// DefaultConfigName is the file searched for in the working directory when
// no path is given.
const DefaultConfigName = "singerlake"

// Config is the complete lake configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Writer WriterConfig `mapstructure:"writer"`
	Log    LogConfig    `mapstructure:"log"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	StoreType string     `mapstructure:"store_type"`
	Path      PathConfig `mapstructure:"path"`
	Lock      LockConfig `mapstructure:"lock"`
	S3        S3Config   `mapstructure:"s3"`
}

// PathConfig describes the lake root and layout.
type PathConfig struct {
	PathType string         `mapstructure:"path_type"`
	LakeRoot LakeRootConfig `mapstructure:"lake_root"`
}

// LakeRootConfig is the lake root as path segments.
type LakeRootConfig struct {
	Segments []string `mapstructure:"segments"`
	Relative bool     `mapstructure:"relative"`
}

// LockConfig configures manifest locking.
type LockConfig struct {
	LockType string        `mapstructure:"lock_type"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// S3Config configures the s3 store.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// WriterConfig configures record writers and commits.
type WriterConfig struct {
	PartitionBy       []string `mapstructure:"partition_by"`
	MaxRecordsPerFile int      `mapstructure:"max_records_per_file"`
	MaxOpenFiles      int      `mapstructure:"max_open_files"`
	Compression       string   `mapstructure:"compression"`
	StagingDir        string   `mapstructure:"staging_dir"`
	CommitConcurrency int      `mapstructure:"commit_concurrency"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
	Human bool `mapstructure:"human"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.store_type", "local")
	v.SetDefault("store.path.path_type", "hive")
	v.SetDefault("store.path.lake_root.segments", []string{"lake"})
	v.SetDefault("store.path.lake_root.relative", true)
	v.SetDefault("store.lock.lock_type", "local")
	v.SetDefault("store.lock.timeout", lock.DefaultTimeout)
	v.SetDefault("store.lock.ttl", lock.DefaultTTL)
	v.SetDefault("store.s3.bucket", "")
	v.SetDefault("store.s3.region", "")
	v.SetDefault("store.s3.endpoint", "")
	v.SetDefault("store.s3.path_style", false)
	v.SetDefault("writer.partition_by", []string{"year", "month", "day", "hour"})
	v.SetDefault("writer.max_records_per_file", 10000)
	v.SetDefault("writer.max_open_files", 64)
	v.SetDefault("writer.compression", "none")
	v.SetDefault("writer.staging_dir", "")
	v.SetDefault("writer.commit_concurrency", 4)
	v.SetDefault("log.debug", false)
	v.SetDefault("log.human", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads the config file at path, or singerlake.yaml in the working
// directory when path is empty. A missing default file is not an error. The
// result is validated.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every selector and bound. It returns the first
// ConfigError found.
func (c *Config) Validate() error {
	if _, err := storage.ParseKind(c.Store.StoreType); err != nil {
		return err
	}
	if _, err := lakepath.ParsePathType(c.Store.Path.PathType); err != nil {
		return err
	}
	if _, err := lock.ParseKind(c.Store.Lock.LockType); err != nil {
		return err
	}
	if _, err := partition.ParseBy(c.Writer.PartitionBy); err != nil {
		return err
	}
	if _, err := datafile.ParseCompression(c.Writer.Compression); err != nil {
		return err
	}
	for _, seg := range c.Store.Path.LakeRoot.Segments {
		if seg == "" || strings.Contains(seg, "/") {
			return lakeerr.NewConfigError("store.path.lake_root.segments", seg, "segments must be non-empty and contain no slash")
		}
	}
	if c.Store.Lock.Timeout < 0 {
		return lakeerr.NewConfigError("store.lock.timeout", c.Store.Lock.Timeout.String(), "must not be negative")
	}
	if c.Writer.MaxRecordsPerFile <= 0 {
		return lakeerr.NewConfigError("writer.max_records_per_file", fmt.Sprint(c.Writer.MaxRecordsPerFile), "must be positive")
	}
	if c.Writer.MaxOpenFiles <= 0 {
		return lakeerr.NewConfigError("writer.max_open_files", fmt.Sprint(c.Writer.MaxOpenFiles), "must be positive")
	}
	if c.Writer.CommitConcurrency <= 0 {
		return lakeerr.NewConfigError("writer.commit_concurrency", fmt.Sprint(c.Writer.CommitConcurrency), "must be positive")
	}
	return nil
}

// LakeRoot returns the configured lake root.
func (c *Config) LakeRoot() lakepath.GenericPath {
	return lakepath.New(c.Store.Path.LakeRoot.Relative, c.Store.Path.LakeRoot.Segments...)
}
