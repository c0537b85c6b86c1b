// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package identity correlates uploads with devices and network addresses to
// catch banned users returning under new accounts.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

// fingerprintHeaders are hashed in this order.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-CH-UA",
	"Sec-CH-UA-Platform",
}

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 32

// BannedDeviceContribution is the risk contribution of BANNED_DEVICE.
const BannedDeviceContribution = 100

// Correlator reads and maintains the device indexes.
type Correlator struct {
	db           *store.Store
	strikeWindow time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// New creates a Correlator. strikeWindow bounds how far back another user's
// strikes count toward evasion.
func New(db *store.Store, strikeWindow time.Duration) *Correlator {
	return &Correlator{
		db:           db,
		strikeWindow: strikeWindow,
		now:          time.Now,
		log:          logging.WithComponent("identity"),
	}
}

// Fingerprint derives a stable device fingerprint from request headers. It
// returns "" when none of the headers are present, so header-less clients are
// not all linked to each other.
func Fingerprint(rc models.RequestContext) string {
	values := make([]string, len(fingerprintHeaders))
	empty := true
	for i, h := range fingerprintHeaders {
		values[i] = rc.Header(h)
		if values[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// UserAgentHash returns the hex SHA-256 of ua, or "" for an empty agent.
func UserAgentHash(ua string) string {
	if ua == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])
}

// UpsertDevice records that userID was seen on fingerprint from ip.
func (c *Correlator) UpsertDevice(ctx context.Context, userID, fingerprint, ip, userAgent string) error {
	rec := &models.DeviceRecord{
		UserID:        userID,
		IPAddress:     ip,
		UserAgentHash: UserAgentHash(userAgent),
		Fingerprint:   fingerprint,
		LastSeen:      c.now().UTC(),
	}
	if err := c.db.Update(ctx, func(tx *store.Tx) error {
		return tx.UpsertDevice(rec)
	}); err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

// Record upserts the device described by rc for userID.
func (c *Correlator) Record(ctx context.Context, userID string, rc models.RequestContext) error {
	return c.UpsertDevice(ctx, userID, Fingerprint(rc), rc.ClientIP(), rc.Header("User-Agent"))
}

// linkedUsers returns the other users that share rc's address or fingerprint.
func linkedUsers(tx *store.Tx, userID string, rc models.RequestContext) ([]string, error) {
	seen := map[string]struct{}{userID: {}}
	var out []string
	add := func(users []string) {
		for _, u := range users {
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				out = append(out, u)
			}
		}
	}

	byFP, err := tx.UsersByFingerprint(Fingerprint(rc))
	if err != nil {
		return nil, err
	}
	add(byFP)
	byIP, err := tx.UsersByIP(rc.ClientIP())
	if err != nil {
		return nil, err
	}
	add(byIP)
	return out, nil
}

// CheckBannedDevice returns a BANNED_DEVICE violation when rc's address or
// fingerprint belongs to another user with an active ban. It must run before
// the current request is upserted.
func (c *Correlator) CheckBannedDevice(ctx context.Context, userID string, rc models.RequestContext) (*models.Violation, error) {
	now := c.now()
	var bannedUser string
	err := c.db.View(ctx, func(tx *store.Tx) error {
		users, err := linkedUsers(tx, userID, rc)
		if err != nil {
			return err
		}
		for _, u := range users {
			bans, err := tx.Bans(u)
			if err != nil {
				return err
			}
			for i := range bans {
				if bans[i].ActiveAt(now) {
					bannedUser = u
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check banned device: %w", err)
	}
	if bannedUser == "" {
		return nil, nil
	}

	c.log.Info().
		Str("user_id", logging.RedactUserID(userID)).
		Str("linked_user", logging.RedactUserID(bannedUser)).
		Str("ip", logging.RedactIP(rc.ClientIP())).
		Msg("upload from device linked to banned account")

	return &models.Violation{
		Type:             models.ViolationBannedDevice,
		Severity:         models.SeverityCritical,
		Message:          "This device is associated with a banned account",
		Blocked:          true,
		RiskContribution: BannedDeviceContribution,
		Appealable:       true,
	}, nil
}

// DetectAccountEvasion returns an advisory violation when other users sharing
// rc's address or fingerprint have active strikes.
func (c *Correlator) DetectAccountEvasion(ctx context.Context, userID string, rc models.RequestContext) (*models.Violation, error) {
	now := c.now()
	cutoff := now.Add(-c.strikeWindow)
	linked := 0
	err := c.db.View(ctx, func(tx *store.Tx) error {
		users, err := linkedUsers(tx, userID, rc)
		if err != nil {
			return err
		}
		for _, u := range users {
			strikes, err := tx.Strikes(u)
			if err != nil {
				return err
			}
			for i := range strikes {
				if strikes[i].ActiveAt(now) && strikes[i].StrikeDate.After(cutoff) {
					linked++
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("detect account evasion: %w", err)
	}
	if linked == 0 {
		return nil, nil
	}

	c.log.Info().
		Str("user_id", logging.RedactUserID(userID)).
		Int("linked_users", linked).
		Msg("possible account evasion")

	return &models.Violation{
		Type:     models.ViolationAccountEvasion,
		Severity: models.SeverityHigh,
		Message:  "Activity is linked to other accounts with recent violations",
	}, nil
}
