// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package config loads Warden configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Badger    BadgerConfig    `koanf:"badger"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Risk      RiskConfig      `koanf:"risk"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Signature SignatureConfig `koanf:"signature"`
	Audit     AuditConfig     `koanf:"audit"`
	Security  SecurityConfig  `koanf:"security"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// Per-IP throttling of the HTTP API itself. This is independent of the
	// per-user upload budget enforced by the rate limiter.
	APIRateLimitReqs     int           `koanf:"api_rate_limit_reqs"`
	APIRateLimitWindow   time.Duration `koanf:"api_rate_limit_window"`
	APIRateLimitDisabled bool          `koanf:"api_rate_limit_disabled"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// BadgerConfig controls the embedded key-value store.
type BadgerConfig struct {
	Path           string        `koanf:"path"`
	InMemory       bool          `koanf:"in_memory"`
	SyncWrites     bool          `koanf:"sync_writes"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

// PipelineConfig bounds every signal check on the upload path.
type PipelineConfig struct {
	SignalTimeout time.Duration `koanf:"signal_timeout"`

	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests"`
	BreakerInterval     time.Duration `koanf:"breaker_interval"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`
}

// RiskConfig holds scoring thresholds.
type RiskConfig struct {
	// FailSecure turns a failed or timed-out signal into a blocking
	// CHECK_ERROR violation. When false the signal is dropped.
	FailSecure bool `koanf:"fail_secure"`

	BlockThreshold  int `koanf:"block_threshold"`
	ReviewThreshold int `koanf:"review_threshold"`

	EpisodeSizeMinBytes int64 `koanf:"episode_size_min_bytes"`
	EpisodeSizeMaxBytes int64 `koanf:"episode_size_max_bytes"`
}

// RateLimitConfig defines upload budgets per tier.
type RateLimitConfig struct {
	Enabled bool `koanf:"enabled"`

	StandardLimit  int           `koanf:"standard_limit"`
	StandardWindow time.Duration `koanf:"standard_window"`

	RestrictedLimit  int           `koanf:"restricted_limit"`
	RestrictedWindow time.Duration `koanf:"restricted_window"`

	LargeVideoLimit  int           `koanf:"large_video_limit"`
	LargeVideoWindow time.Duration `koanf:"large_video_window"`
	LargeVideoBytes  int64         `koanf:"large_video_bytes"`
}

// LedgerConfig controls strikes, bans and the probing detector.
type LedgerConfig struct {
	StrikeWindow time.Duration `koanf:"strike_window"`

	ProbeThreshold  int           `koanf:"probe_threshold"`
	ProbeWindow     time.Duration `koanf:"probe_window"`
	TempBanDuration time.Duration `koanf:"temp_ban_duration"`

	// PermBanAfterTempBans escalates to a permanent ban once a user has
	// collected this many temporary bans inside StrikeWindow. 0 disables it.
	PermBanAfterTempBans int `koanf:"perm_ban_after_temp_bans"`

	MaxRetries          int           `koanf:"max_retries"`
	RetryInitialBackoff time.Duration `koanf:"retry_initial_backoff"`
}

// SignatureConfig extends the built-in dictionaries.
type SignatureConfig struct {
	Titles        []string `koanf:"titles"`
	ReleaseGroups []string `koanf:"release_groups"`
	ExtraMarkers  []string `koanf:"extra_markers"`

	// ReplaceDefaults drops the built-in dictionaries instead of extending them.
	ReplaceDefaults bool `koanf:"replace_defaults"`
}

// AuditConfig selects and tunes the audit sink.
type AuditConfig struct {
	Enabled    bool   `koanf:"enabled"`
	BufferSize int    `koanf:"buffer_size"`
	Sink       string `koanf:"sink"` // memory, nats, duckdb

	MemoryMaxEvents int `koanf:"memory_max_events"`

	NATSURL   string `koanf:"nats_url"`
	NATSTopic string `koanf:"nats_topic"`

	// NATSEmbedded runs a JetStream server in process for single-node
	// deployments. NATSURL is then ignored.
	NATSEmbedded     bool   `koanf:"nats_embedded"`
	NATSEmbeddedPort int    `koanf:"nats_embedded_port"`
	NATSStoreDir     string `koanf:"nats_store_dir"`

	DuckDBPath string `koanf:"duckdb_path"`

	// AlertInterval is the minimum spacing between audit failure alerts.
	AlertInterval time.Duration `koanf:"alert_interval"`
}

// SecurityConfig covers reviewer authentication and authorization.
type SecurityConfig struct {
	JWTSecret        string        `koanf:"jwt_secret"`
	TokenTTL         time.Duration `koanf:"token_ttl"`
	CasbinModelPath  string        `koanf:"casbin_model_path"`
	CasbinPolicyPath string        `koanf:"casbin_policy_path"`
}

// Audit sink names.
const (
	AuditSinkMemory = "memory"
	AuditSinkNATS   = "nats"
	AuditSinkDuckDB = "duckdb"
)
