// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tomtom215/warden/internal/logging"
)

// MinJWTSecretLength is the minimum accepted HMAC secret length.
const MinJWTSecretLength = 32

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateBadger,
		c.validatePipeline,
		c.validateRisk,
		c.validateRateLimit,
		c.validateLedger,
		c.validateSignature,
		c.validateAudit,
		c.validateSecurity,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !c.Server.APIRateLimitDisabled {
		if c.Server.APIRateLimitReqs <= 0 {
			return fmt.Errorf("API_RATE_LIMIT_REQUESTS must be positive")
		}
		if c.Server.APIRateLimitWindow <= 0 {
			return fmt.Errorf("API_RATE_LIMIT_WINDOW must be positive")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

func (c *Config) validateBadger() error {
	if !c.Badger.InMemory && c.Badger.Path == "" {
		return fmt.Errorf("BADGER_PATH is required unless BADGER_IN_MEMORY=true")
	}
	if c.Badger.GCDiscardRatio <= 0 || c.Badger.GCDiscardRatio >= 1 {
		return fmt.Errorf("BADGER_GC_DISCARD_RATIO must be in (0,1), got %v", c.Badger.GCDiscardRatio)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.SignalTimeout <= 0 {
		return fmt.Errorf("SIGNAL_TIMEOUT must be positive")
	}
	if c.Pipeline.BreakerFailureRatio <= 0 || c.Pipeline.BreakerFailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0,1], got %v", c.Pipeline.BreakerFailureRatio)
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	if r.ReviewThreshold <= 0 || r.ReviewThreshold >= r.BlockThreshold || r.BlockThreshold > 100 {
		return fmt.Errorf("risk thresholds must satisfy 0 < review (%d) < block (%d) <= 100",
			r.ReviewThreshold, r.BlockThreshold)
	}
	if r.EpisodeSizeMinBytes < 0 || r.EpisodeSizeMaxBytes < r.EpisodeSizeMinBytes {
		return fmt.Errorf("episode size range [%d, %d] is invalid", r.EpisodeSizeMinBytes, r.EpisodeSizeMaxBytes)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	if !rl.Enabled {
		return nil
	}
	budgets := []struct {
		name   string
		limit  int
		window int64
	}{
		{"standard", rl.StandardLimit, int64(rl.StandardWindow)},
		{"restricted", rl.RestrictedLimit, int64(rl.RestrictedWindow)},
		{"large_video", rl.LargeVideoLimit, int64(rl.LargeVideoWindow)},
	}
	for _, b := range budgets {
		if b.limit <= 0 || b.window <= 0 {
			return fmt.Errorf("rate limit tier %s needs a positive limit and window", b.name)
		}
	}
	if rl.LargeVideoBytes <= 0 {
		return fmt.Errorf("RATE_LIMIT_VIDEO_BYTES must be positive")
	}
	return nil
}

func (c *Config) validateLedger() error {
	l := c.Ledger
	if l.StrikeWindow <= 0 || l.ProbeWindow <= 0 || l.TempBanDuration <= 0 {
		return fmt.Errorf("ledger windows and ban duration must be positive")
	}
	if l.ProbeThreshold <= 0 {
		return fmt.Errorf("PROBE_THRESHOLD must be positive")
	}
	if l.PermBanAfterTempBans < 0 {
		return fmt.Errorf("PERM_BAN_AFTER_TEMP_BANS must not be negative")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must not be negative")
	}
	return nil
}

func (c *Config) validateSignature() error {
	for _, expr := range c.Signature.ExtraMarkers {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("signature marker %q does not compile: %w", expr, err)
		}
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	if c.Audit.BufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive")
	}
	switch strings.ToLower(c.Audit.Sink) {
	case AuditSinkMemory:
		return nil
	case AuditSinkNATS:
		if c.Audit.NATSTopic == "" {
			return fmt.Errorf("AUDIT_NATS_TOPIC is required for the nats sink")
		}
		// The topic doubles as the JetStream stream name.
		if strings.ContainsAny(c.Audit.NATSTopic, ".*> \t") {
			return fmt.Errorf("AUDIT_NATS_TOPIC must not contain '.', '*', '>' or whitespace, got %q", c.Audit.NATSTopic)
		}
		if c.Audit.NATSEmbedded {
			if c.Audit.NATSStoreDir == "" {
				return fmt.Errorf("AUDIT_NATS_STORE_DIR is required for the embedded nats server")
			}
			if c.Audit.NATSEmbeddedPort < 1 || c.Audit.NATSEmbeddedPort > 65535 {
				return fmt.Errorf("AUDIT_NATS_EMBEDDED_PORT must be between 1 and 65535")
			}
			return nil
		}
		if c.Audit.NATSURL == "" {
			return fmt.Errorf("AUDIT_NATS_URL is required for the nats sink")
		}
		return nil
	case AuditSinkDuckDB:
		if c.Audit.DuckDBPath == "" {
			return fmt.Errorf("AUDIT_DUCKDB_PATH is required for the duckdb sink")
		}
		return nil
	default:
		return fmt.Errorf("AUDIT_SINK must be memory, nats or duckdb, got %q", c.Audit.Sink)
	}
}

func (c *Config) validateSecurity() error {
	if len(c.Security.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLength)
	}
	return nil
}
