// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package logging

import (
	"net"
	"strings"
)

// RedactHash keeps the first 8 characters of a content hash or device
// fingerprint. That is enough to correlate log lines without making the
// value reusable.
// Example: "5d41402abc4b2a76b9719d911017c592" -> "5d41402a…"
func RedactHash(hash string) string {
	if hash == "" {
		return ""
	}
	if len(hash) <= 8 {
		return "***"
	}
	return hash[:8] + "…"
}

// RedactIP masks the host part of an address: the last octet for IPv4 and
// everything past the /48 prefix for IPv6.
// Example: "203.0.113.42" -> "203.0.113.x"
func RedactIP(addr string) string {
	if addr == "" {
		return ""
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return "***"
	}
	if v4 := ip.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		return strings.Join(parts[:3], ".") + ".x"
	}
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}

// RedactUserID masks a user id.
// Example: "user-12345678" -> "user...5678"
func RedactUserID(userID string) string {
	if userID == "" {
		return ""
	}
	if len(userID) <= 8 {
		return "***"
	}
	return userID[:4] + "..." + userID[len(userID)-4:]
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
