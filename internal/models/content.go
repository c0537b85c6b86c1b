// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package models

import "time"

// BlockedHash prevents re-upload of an exact previously blocked binary.
// Entries are only ever removed by an approved appeal.
type BlockedHash struct {
	ContentHash    string    `json:"content_hash"`
	Reason         string    `json:"reason"`
	FirstBlockedAt time.Time `json:"first_blocked_at"`
	SampleFileName string    `json:"sample_file_name"`
	ContentID      string    `json:"content_id"`
}

// ContentStatus is the visibility of a piece of content as seen by the core.
type ContentStatus string

const (
	ContentActive  ContentStatus = "ACTIVE"
	ContentBlocked ContentStatus = "BLOCKED"
)

// ContentRecord tracks a blocked upload so an appeal can find and restore it.
type ContentRecord struct {
	ContentID     string        `json:"content_id"`
	UserID        string        `json:"user_id"`
	ContentHash   string        `json:"content_hash"`
	FileName      string        `json:"file_name"`
	Status        ContentStatus `json:"status"`
	BlockedReason string        `json:"blocked_reason,omitempty"`

	// MatchedHash is set when the block came from a blocklist match. An
	// approved appeal removes this hash whoever first blocked it.
	MatchedHash string    `json:"matched_hash,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeviceRecord links a user to a device fingerprint and address. One user
// has many devices and one device or IP may be shared by many users.
type DeviceRecord struct {
	UserID        string    `json:"user_id"`
	IPAddress     string    `json:"ip_address"`
	UserAgentHash string    `json:"user_agent_hash"`
	Fingerprint   string    `json:"fingerprint"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}
