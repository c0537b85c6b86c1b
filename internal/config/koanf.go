// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/warden/config.yaml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8088,
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSOrigins:        []string{},
			APIRateLimitReqs:   300,
			APIRateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Badger: BadgerConfig{
			Path:           "/data/warden",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Pipeline: PipelineConfig{
			SignalTimeout:       2 * time.Second,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      30 * time.Second,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},
		Risk: RiskConfig{
			FailSecure:          true,
			BlockThreshold:      80,
			ReviewThreshold:     50,
			EpisodeSizeMinBytes: 150 << 20,
			EpisodeSizeMaxBytes: 500 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			StandardLimit:    10,
			StandardWindow:   15 * time.Minute,
			RestrictedLimit:  3,
			RestrictedWindow: time.Hour,
			LargeVideoLimit:  5,
			LargeVideoWindow: 30 * time.Minute,
			LargeVideoBytes:  50 << 20,
		},
		Ledger: LedgerConfig{
			StrikeWindow:        90 * 24 * time.Hour,
			ProbeThreshold:      5,
			ProbeWindow:         time.Hour,
			TempBanDuration:     24 * time.Hour,
			MaxRetries:          5,
			RetryInitialBackoff: 10 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:          true,
			BufferSize:       1000,
			Sink:             AuditSinkMemory,
			MemoryMaxEvents:  10000,
			NATSURL:          "nats://127.0.0.1:4222",
			NATSTopic:        "warden_audit",
			NATSEmbeddedPort: 4222,
			NATSStoreDir:     "/data/warden-nats",
			DuckDBPath:       "/data/warden-audit.duckdb",
			AlertInterval:    30 * time.Second,
		},
		Security: SecurityConfig{
			TokenTTL: 24 * time.Hour,
		},
	}
}

// Load reads configuration with koanf:
//  1. built-in defaults
//  2. optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"signature.titles",
	"signature.release_groups",
	"signature.extra_markers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"http_host":               "server.host",
	"http_port":               "server.port",
	"http_read_timeout":       "server.read_timeout",
	"http_write_timeout":      "server.write_timeout",
	"http_shutdown_timeout":   "server.shutdown_timeout",
	"cors_origins":            "server.cors_origins",
	"api_rate_limit_requests": "server.api_rate_limit_reqs",
	"api_rate_limit_window":   "server.api_rate_limit_window",
	"disable_api_rate_limit":  "server.api_rate_limit_disabled",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"badger_path":             "badger.path",
	"badger_in_memory":        "badger.in_memory",
	"badger_sync_writes":      "badger.sync_writes",
	"badger_gc_interval":      "badger.gc_interval",
	"badger_gc_discard_ratio": "badger.gc_discard_ratio",

	"signal_timeout":        "pipeline.signal_timeout",
	"breaker_timeout":       "pipeline.breaker_timeout",
	"breaker_failure_ratio": "pipeline.breaker_failure_ratio",

	"risk_fail_secure":      "risk.fail_secure",
	"risk_block_threshold":  "risk.block_threshold",
	"risk_review_threshold": "risk.review_threshold",

	"rate_limit_enabled":           "ratelimit.enabled",
	"rate_limit_standard_limit":    "ratelimit.standard_limit",
	"rate_limit_standard_window":   "ratelimit.standard_window",
	"rate_limit_restricted_limit":  "ratelimit.restricted_limit",
	"rate_limit_restricted_window": "ratelimit.restricted_window",
	"rate_limit_video_limit":       "ratelimit.large_video_limit",
	"rate_limit_video_window":      "ratelimit.large_video_window",
	"rate_limit_video_bytes":       "ratelimit.large_video_bytes",

	"strike_window":            "ledger.strike_window",
	"probe_threshold":          "ledger.probe_threshold",
	"probe_window":             "ledger.probe_window",
	"temp_ban_duration":        "ledger.temp_ban_duration",
	"perm_ban_after_temp_bans": "ledger.perm_ban_after_temp_bans",
	"ledger_max_retries":       "ledger.max_retries",

	"signature_titles":           "signature.titles",
	"signature_release_groups":   "signature.release_groups",
	"signature_extra_markers":    "signature.extra_markers",
	"signature_replace_defaults": "signature.replace_defaults",

	"audit_enabled":            "audit.enabled",
	"audit_buffer_size":        "audit.buffer_size",
	"audit_sink":               "audit.sink",
	"audit_nats_url":           "audit.nats_url",
	"audit_nats_topic":         "audit.nats_topic",
	"audit_nats_embedded":      "audit.nats_embedded",
	"audit_nats_embedded_port": "audit.nats_embedded_port",
	"audit_nats_store_dir":     "audit.nats_store_dir",
	"audit_duckdb_path":        "audit.duckdb_path",

	"jwt_secret":         "security.jwt_secret",
	"jwt_token_ttl":      "security.token_ttl",
	"casbin_model_path":  "security.casbin_model_path",
	"casbin_policy_path": "security.casbin_policy_path",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
