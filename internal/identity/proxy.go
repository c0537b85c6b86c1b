// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package identity

import (
	"strings"

	"github.com/tomtom215/warden/internal/models"
)

// maxForwardedHops is the X-Forwarded-For length a normal CDN path produces.
const maxForwardedHops = 2

var proxyAgentTokens = []string{"vpn", "proxy", "tor"}

// DetectProxy returns an informational violation when rc shows signs of a
// proxy or VPN. It never affects the decision.
func DetectProxy(rc models.RequestContext) *models.Violation {
	if !proxyIndicated(rc) {
		return nil
	}
	return &models.Violation{
		Type:     models.ViolationProxySuspected,
		Severity: models.SeverityLow,
		Message:  "Request appears to come through a proxy or VPN",
	}
}

func proxyIndicated(rc models.RequestContext) bool {
	if xff := rc.Header("X-Forwarded-For"); xff != "" && len(strings.Split(xff, ",")) > maxForwardedHops {
		return true
	}
	if rc.Header("Via") != "" || rc.Header("X-Proxy-ID") != "" {
		return true
	}
	ua := strings.ToLower(rc.Header("User-Agent"))
	for _, tok := range proxyAgentTokens {
		if containsToken(ua, tok) {
			return true
		}
	}
	return false
}

// containsToken reports whether tok appears in s delimited by non-letters, so
// "tor" matches "Tor Browser" but not "Motorola".
func containsToken(s, tok string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], tok)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(tok)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
