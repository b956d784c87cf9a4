// Package config loads and validates the agent's runtime configuration
// from a YAML file overlaid with environment variables (spec.md §6
// "Configuration").
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the agent's full runtime configuration.
type Config struct {
	Watch       WatchConfig       `mapstructure:"watch"`
	Metadata    MetadataConfig    `mapstructure:"metadata"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	Rollback    RollbackConfig    `mapstructure:"rollback"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// WatchConfig configures the Watch Session (spec.md §4.1).
type WatchConfig struct {
	Directories     []string      `mapstructure:"directories" validate:"required,min=1"`
	Recursive       bool          `mapstructure:"recursive"`
	DebounceWindow  time.Duration `mapstructure:"debounce_window_ms" validate:"min=0"`
	BurstThreshold  int           `mapstructure:"burst_threshold" validate:"min=1"`
	RingCapacity    int           `mapstructure:"ring_capacity" validate:"min=1"`
	MinNotifySize   int64         `mapstructure:"min_notify_size_bytes" validate:"min=0"`
}

// MetadataConfig configures the Metadata Extractor's cache (spec.md §4.2).
type MetadataConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl_minutes" validate:"min=0"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries" validate:"min=1"`
	MaxArtifactSize int64         `mapstructure:"max_artifact_size_bytes" validate:"min=1"`
}

// CoordinatorConfig configures the Redefinition Coordinator (spec.md §4.4).
type CoordinatorConfig struct {
	AttemptDeadline time.Duration `mapstructure:"attempt_deadline_seconds" validate:"min=0"`
	CoalescePending bool          `mapstructure:"coalesce_pending"`
	QueueCapacity   int           `mapstructure:"queue_capacity" validate:"min=1"`
}

// SnapshotConfig configures the per-class snapshot chain (spec.md §4.4).
type SnapshotConfig struct {
	ChainMaxLength int `mapstructure:"chain_max_length" validate:"min=1"`
}

// ReconcilerConfig configures the Instance Reconciler (spec.md §4.5).
type ReconcilerConfig struct {
	DefaultStrategy string `mapstructure:"default_strategy" validate:"oneof=ReflectiveRestore ProxyRefresh FactoryReset NoUpdate Automatic"`
}

// RollbackConfig configures the Rollback Manager's conflict-resolution
// strategies (spec.md §4.6).
type RollbackConfig struct {
	BytecodeConflict string `mapstructure:"bytecode_conflict" validate:"oneof=MergeChanges PreferRollback PreferCurrent AbortOnConflict ForceRollback ManualResolution"`
	InstanceConflict string `mapstructure:"instance_conflict" validate:"oneof=MergeChanges PreferRollback PreferCurrent AbortOnConflict ForceRollback ManualResolution"`
}

// LogConfig configures structured logging and file rotation.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from configPath (if non-empty and present),
// overlays environment variables prefixed REDEFINECORE_, fills in
// defaults for anything unset, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REDEFINECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watch.directories", []string{})
	v.SetDefault("watch.recursive", true)
	v.SetDefault("watch.debounce_window_ms", 250*time.Millisecond)
	v.SetDefault("watch.burst_threshold", 5)
	v.SetDefault("watch.ring_capacity", 8)
	v.SetDefault("watch.min_notify_size_bytes", 1024)

	v.SetDefault("metadata.cache_ttl_minutes", 30*time.Minute)
	v.SetDefault("metadata.cache_max_entries", 10000)
	v.SetDefault("metadata.max_artifact_size_bytes", 16*1024*1024)

	v.SetDefault("coordinator.attempt_deadline_seconds", 30*time.Second)
	v.SetDefault("coordinator.coalesce_pending", true)
	v.SetDefault("coordinator.queue_capacity", 64)

	v.SetDefault("snapshot.chain_max_length", 16)

	v.SetDefault("reconciler.default_strategy", "Automatic")

	v.SetDefault("rollback.bytecode_conflict", "ForceRollback")
	v.SetDefault("rollback.instance_conflict", "AbortOnConflict")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
