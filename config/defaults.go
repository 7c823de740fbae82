// Package config provides configuration defaults for the statbot application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or CLI flags.
package config

import "time"

// =============================================================================
// Application Defaults
// =============================================================================

const (
	// DefaultApp is the application namespace expected on inbound events.
	// Events carrying any other namespace are rejected before they reach
	// the recorder.
	// Override via config: app
	DefaultApp = "chat.dim.monitor"

	// DefaultListenAddress is the default ingest/command listen address.
	// Override via config: listen
	DefaultListenAddress = "0.0.0.0:9394"
)

// =============================================================================
// Recorder Defaults
// =============================================================================

const (
	// DefaultIdleInterval is how long the aggregation worker sleeps when
	// the ingest queue is empty (cooperative polling, not busy-spin).
	// Override via config: recorder.idle_interval
	DefaultIdleInterval = 2 * time.Second

	// DefaultStaleness is the staleness horizon for inbound events.
	// Events whose timestamp is older than this are dropped, never persisted.
	// Override via config: recorder.staleness
	DefaultStaleness = 7 * 24 * time.Hour
)

// =============================================================================
// Log Container Defaults
// =============================================================================

const (
	// DefaultUsersLogTemplate is the file name template for users containers.
	// {yyyy}, {mm} and {dd} are replaced with the calendar day.
	// Override via config: statistic.users_log
	DefaultUsersLogTemplate = "users_log-{yyyy}-{mm}-{dd}.js"

	// DefaultStatsLogTemplate is the file name template for stats containers.
	// Override via config: statistic.stats_log
	DefaultStatsLogTemplate = "stats_log-{yyyy}-{mm}-{dd}.js"

	// DefaultSpeedsLogTemplate is the file name template for speeds containers.
	// Override via config: statistic.speeds_log
	DefaultSpeedsLogTemplate = "speeds_log-{yyyy}-{mm}-{dd}.js"
)

// =============================================================================
// Checkpoint Defaults
// =============================================================================

const (
	// DefaultCheckpointWindow is how long a message signature is remembered
	// for replay detection. A signature seen again within this window is
	// reported as a duplicate.
	// Override via config: checkpoint.window
	DefaultCheckpointWindow = time.Hour

	// DefaultCheckpointMaxEntries caps the number of remembered signatures.
	// When the cap is exceeded, expired entries are purged first, then the
	// oldest remaining entries are evicted.
	// Override via config: checkpoint.max_entries
	DefaultCheckpointMaxEntries = 100000

	// DefaultCheckpointCleanupInterval is how often expired signatures are
	// purged in the background.
	DefaultCheckpointCleanupInterval = time.Minute
)

// =============================================================================
// Directory Defaults
// =============================================================================

const (
	// DefaultDirectoryCacheTTL is how long resolved identity documents are
	// cached before the resolver is consulted again.
	// Override via config: directory.cache_ttl
	DefaultDirectoryCacheTTL = 5 * time.Minute
)

// =============================================================================
// Percentile Defaults
// =============================================================================

const (
	// DefaultPercentileAccuracy is the DDSketch relative accuracy used for
	// the optional response-time percentile column (0.01 = 1% error).
	// Override via config: features.percentile.accuracy
	DefaultPercentileAccuracy = 0.01

	// DefaultPercentileQuantile is the quantile shown in speeds reports
	// when percentiles are enabled.
	// Override via config: features.percentile.quantile
	DefaultPercentileQuantile = 0.9
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultArchiveAfterDays is the age in days after which a day container
	// becomes eligible for archiving. Must be larger than the staleness
	// horizon so the recorder never writes to an archived day.
	// Override via config: archive.after_days
	DefaultArchiveAfterDays = 8

	// DefaultArchiveInterval is how often the archiver sweeps the data
	// directory for eligible containers.
	// Override via config: archive.interval
	DefaultArchiveInterval = time.Hour
)

// =============================================================================
// Auth Defaults
// =============================================================================

const (
	// DefaultAuthTimeoutSec is the time allowed for authentication after
	// connect. Clients must authenticate within this window or be
	// disconnected.
	// Override via config: auth.timeout_sec
	DefaultAuthTimeoutSec = 30

	// DefaultAuthRateLimitPerMinute is the max FAILED auth attempts per IP
	// per minute. Successful authentications reset the failure counter.
	// Override via config: auth.rate_limit_per_minute
	DefaultAuthRateLimitPerMinute = 5
)
