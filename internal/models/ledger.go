// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package models

import "time"

// UserStrike is one confirmed block counted against a user.
type UserStrike struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ContentID     string    `json:"content_id"`
	Reason        string    `json:"reason"`
	StrikeDate    time.Time `json:"strike_date"`
	ExpiresAt     time.Time `json:"expires_at"`
	FalsePositive bool      `json:"false_positive"`
}

// ActiveAt reports whether the strike counts at time now. Expired and
// overturned strikes stay in history but no longer count.
func (s *UserStrike) ActiveAt(now time.Time) bool {
	return !s.FalsePositive && s.ExpiresAt.After(now)
}

// CountActiveStrikes returns how many strikes in history count at now.
func CountActiveStrikes(history []UserStrike, now time.Time) int {
	n := 0
	for i := range history {
		if history[i].ActiveAt(now) {
			n++
		}
	}
	return n
}

// BanType distinguishes expiring and permanent bans.
type BanType string

const (
	BanTemporary BanType = "TEMPORARY"
	BanPermanent BanType = "PERMANENT"
)

// Ban blocks a user's uploads. Whether it is in force is always computed at
// read time with ActiveAt; nothing stores an "active" flag.
type Ban struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	BanType   BanType    `json:"ban_type"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LiftedAt  *time.Time `json:"lifted_at,omitempty"`
	LiftedBy  string     `json:"lifted_by,omitempty"`
}

// ActiveAt reports whether the ban is in force at now.
func (b *Ban) ActiveAt(now time.Time) bool {
	if b.LiftedAt != nil {
		return false
	}
	if b.BanType == BanPermanent {
		return true
	}
	return b.ExpiresAt != nil && b.ExpiresAt.After(now)
}

// StandingState is the user's position in the enforcement state machine.
type StandingState string

const (
	StateClean      StandingState = "CLEAN"
	StateStriked    StandingState = "STRIKED"
	StateTempBanned StandingState = "TEMP_BANNED"
	StatePermBanned StandingState = "PERM_BANNED"
)

// UserStanding is a read model over strikes and bans.
type UserStanding struct {
	UserID        string        `json:"user_id"`
	State         StandingState `json:"state"`
	ActiveStrikes int           `json:"active_strikes"`
	ActiveBan     *Ban          `json:"active_ban,omitempty"`

	// Restricted selects the restricted rate limit tier.
	Restricted bool `json:"restricted"`
}

// AttemptRecord is the violation log: one entry per assessed upload.
type AttemptRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	ContentID      string          `json:"content_id"`
	ContentHash    string          `json:"content_hash"`
	FileName       string          `json:"file_name"`
	Blocked        bool            `json:"blocked"`
	RiskScore      int             `json:"risk_score"`
	Decision       Decision        `json:"decision"`
	ViolationTypes []ViolationType `json:"violation_types"`

	// RateLimited marks a refused upload whose content screened as
	// blocked. It counts toward probing but earns no strike.
	RateLimited   bool      `json:"rate_limited,omitempty"`
	FalsePositive bool      `json:"false_positive"`
	CreatedAt     time.Time `json:"created_at"`
}
