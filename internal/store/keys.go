// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import "strings"

// sep joins key components. User ids, IPv6 addresses and content ids may all
// contain ':', so components after the prefix are NUL-separated.
const sep = "\x00"

const (
	prefixHash           = "hash:"
	prefixHashContent    = "hash_content:"
	prefixContent        = "content:"
	prefixStrike         = "strike:"
	prefixStrikeContent  = "strike_content:"
	prefixBan            = "ban:"
	prefixAttempt        = "attempt:"
	prefixAttemptContent = "attempt_content:"
	prefixDevice         = "device:"
	prefixDeviceFP       = "device_fp:"
	prefixDeviceIP       = "device_ip:"
	prefixAppeal         = "appeal:"
	prefixAppealStatus   = "appeal_status:"
	prefixAppealPending  = "appeal_pending:"
	prefixRateWindow     = "rl:"
)

func join(prefix string, parts ...string) string {
	return prefix + strings.Join(parts, sep)
}

// under returns the scan prefix for all keys whose first components are parts.
func under(prefix string, parts ...string) string {
	return join(prefix, parts...) + sep
}

func splitKey(suffix string) []string {
	return strings.Split(suffix, sep)
}

// keyKind names the entity a key belongs to, for error messages that must not
// echo user ids or hashes.
func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "key"
}
