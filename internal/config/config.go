// Package config loads and validates the statbot YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/statbot/config"
)

// Config represents the complete statbot configuration.
type Config struct {
	// App is the application namespace expected on inbound events.
	App string `yaml:"app"`

	// Listen is the ingest/command listen address.
	Listen string `yaml:"listen"`

	// DataDir is the root directory for log container files.
	DataDir string `yaml:"data_dir"`

	// Supervisors lists the identities allowed to run query commands.
	Supervisors []string `yaml:"supervisors"`

	// Auth configures inbound connection authentication.
	Auth AuthConfig `yaml:"auth"`

	// Statistic configures log container file names.
	Statistic StatisticConfig `yaml:"statistic"`

	// Recorder configures the aggregation worker.
	Recorder RecorderConfig `yaml:"recorder"`

	// Checkpoint configures replay detection.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Directory configures identity resolution caching.
	Directory DirectoryConfig `yaml:"directory"`

	// Features configures optional features.
	Features FeaturesConfig `yaml:"features"`

	// Archive configures old-day container archiving.
	Archive ArchiveConfig `yaml:"archive"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// AuthConfig configures inbound connection authentication.
type AuthConfig struct {
	// Tokens lists accepted auth tokens.
	Tokens []TokenConfig `yaml:"tokens"`

	// TimeoutSec is the time allowed for authentication after connect.
	TimeoutSec int `yaml:"timeout_sec"`

	// RateLimitPerMinute is the max failed auth attempts per IP per minute.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// TokenConfig is a single auth token.
type TokenConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// StatisticConfig configures log container file name templates.
// {yyyy}, {mm} and {dd} are replaced with the calendar day of the bucket.
type StatisticConfig struct {
	UsersLog  string `yaml:"users_log"`
	StatsLog  string `yaml:"stats_log"`
	SpeedsLog string `yaml:"speeds_log"`
}

// RecorderConfig configures the aggregation worker.
type RecorderConfig struct {
	// IdleInterval is the sleep interval when the ingest queue is empty.
	IdleInterval time.Duration `yaml:"idle_interval"`

	// Staleness is the horizon past which events are dropped.
	Staleness time.Duration `yaml:"staleness"`
}

// CheckpointConfig configures replay detection.
type CheckpointConfig struct {
	// Window is how long a signature is remembered.
	Window time.Duration `yaml:"window"`

	// MaxEntries caps the number of remembered signatures.
	MaxEntries int `yaml:"max_entries"`
}

// DirectoryConfig configures identity resolution caching.
type DirectoryConfig struct {
	// CacheTTL is how long resolved documents are cached.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// FeaturesConfig configures optional features.
type FeaturesConfig struct {
	// Percentile configures the DDSketch response-time percentile column.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables the percentile column in speeds reports.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`

	// Quantile is the quantile shown in reports (0.9 = P90).
	Quantile float64 `yaml:"quantile"`
}

// ArchiveConfig configures old-day container archiving.
type ArchiveConfig struct {
	// Enabled enables the archiver.
	Enabled bool `yaml:"enabled"`

	// AfterDays is the age in days after which a container is archived.
	AfterDays int `yaml:"after_days"`

	// Interval is how often the data directory is swept.
	Interval time.Duration `yaml:"interval"`

	// S3 configures optional offsite upload of archived containers.
	S3 S3Config `yaml:"s3"`
}

// S3Config configures offsite upload. Upload is disabled when Bucket is empty.
type S3Config struct {
	Region string `yaml:"region"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output to JSON format.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration populated with defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills unset fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.App == "" {
		c.App = defaults.DefaultApp
	}
	if c.Listen == "" {
		c.Listen = defaults.DefaultListenAddress
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Auth.TimeoutSec == 0 {
		c.Auth.TimeoutSec = defaults.DefaultAuthTimeoutSec
	}
	if c.Auth.RateLimitPerMinute == 0 {
		c.Auth.RateLimitPerMinute = defaults.DefaultAuthRateLimitPerMinute
	}
	if c.Statistic.UsersLog == "" {
		c.Statistic.UsersLog = defaults.DefaultUsersLogTemplate
	}
	if c.Statistic.StatsLog == "" {
		c.Statistic.StatsLog = defaults.DefaultStatsLogTemplate
	}
	if c.Statistic.SpeedsLog == "" {
		c.Statistic.SpeedsLog = defaults.DefaultSpeedsLogTemplate
	}
	if c.Recorder.IdleInterval == 0 {
		c.Recorder.IdleInterval = defaults.DefaultIdleInterval
	}
	if c.Recorder.Staleness == 0 {
		c.Recorder.Staleness = defaults.DefaultStaleness
	}
	if c.Checkpoint.Window == 0 {
		c.Checkpoint.Window = defaults.DefaultCheckpointWindow
	}
	if c.Checkpoint.MaxEntries == 0 {
		c.Checkpoint.MaxEntries = defaults.DefaultCheckpointMaxEntries
	}
	if c.Directory.CacheTTL == 0 {
		c.Directory.CacheTTL = defaults.DefaultDirectoryCacheTTL
	}
	if c.Features.Percentile.Accuracy == 0 {
		c.Features.Percentile.Accuracy = defaults.DefaultPercentileAccuracy
	}
	if c.Features.Percentile.Quantile == 0 {
		c.Features.Percentile.Quantile = defaults.DefaultPercentileQuantile
	}
	if c.Archive.AfterDays == 0 {
		c.Archive.AfterDays = defaults.DefaultArchiveAfterDays
	}
	if c.Archive.Interval == 0 {
		c.Archive.Interval = defaults.DefaultArchiveInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	for name, tmpl := range map[string]string{
		"statistic.users_log":  c.Statistic.UsersLog,
		"statistic.stats_log":  c.Statistic.StatsLog,
		"statistic.speeds_log": c.Statistic.SpeedsLog,
	} {
		for _, ph := range []string{"{yyyy}", "{mm}", "{dd}"} {
			if !strings.Contains(tmpl, ph) {
				return fmt.Errorf("%s: template %q is missing %s", name, tmpl, ph)
			}
		}
	}

	if c.Recorder.Staleness <= 0 {
		return fmt.Errorf("recorder.staleness must be positive")
	}
	if c.Checkpoint.Window <= 0 {
		return fmt.Errorf("checkpoint.window must be positive")
	}
	if c.Checkpoint.MaxEntries <= 0 {
		return fmt.Errorf("checkpoint.max_entries must be positive")
	}

	if p := c.Features.Percentile; p.Enabled {
		if p.Accuracy <= 0 || p.Accuracy >= 1 {
			return fmt.Errorf("features.percentile.accuracy must be in (0, 1)")
		}
		if p.Quantile <= 0 || p.Quantile >= 1 {
			return fmt.Errorf("features.percentile.quantile must be in (0, 1)")
		}
	}

	if c.Archive.Enabled {
		// The recorder still writes to any day within the staleness horizon,
		// so archiving younger containers would break the single-writer rule.
		if time.Duration(c.Archive.AfterDays)*24*time.Hour <= c.Recorder.Staleness {
			return fmt.Errorf("archive.after_days (%d) must exceed recorder.staleness (%s)",
				c.Archive.AfterDays, c.Recorder.Staleness)
		}
	}

	return nil
}
