// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package models

import "time"

// ViolationType identifies the signal that produced a Violation.
type ViolationType string

const (
	// ViolationCopyrightedContent: known title plus a distribution marker.
	ViolationCopyrightedContent ViolationType = "COPYRIGHTED_CONTENT"

	// ViolationPossiblePiracyPattern: distribution marker without a title.
	ViolationPossiblePiracyPattern ViolationType = "POSSIBLE_PIRACY_PATTERN"

	// ViolationFansubGroup: release group identifier found in metadata.
	ViolationFansubGroup ViolationType = "FANSUB_GROUP"

	// ViolationBlockedHash: exact re-upload of previously blocked content.
	ViolationBlockedHash ViolationType = "BLOCKED_HASH"

	// ViolationRepeatOffender: two or more active strikes, added only next
	// to another violation.
	ViolationRepeatOffender ViolationType = "REPEAT_OFFENDER"

	// ViolationSuspiciousSize: typical episode size, added only next to
	// another violation.
	ViolationSuspiciousSize ViolationType = "SUSPICIOUS_SIZE"

	// ViolationCheckError: a signal failed or timed out.
	ViolationCheckError ViolationType = "CHECK_ERROR"

	// ViolationUserBanned: the uploader has an active ban.
	ViolationUserBanned ViolationType = "USER_BANNED"

	// ViolationBannedDevice: the device or IP is linked to a banned account.
	ViolationBannedDevice ViolationType = "BANNED_DEVICE"

	// ViolationAccountEvasion: the device or IP is shared with other users
	// holding active strikes. Advisory.
	ViolationAccountEvasion ViolationType = "ACCOUNT_EVASION_SUSPECTED"

	// ViolationProxySuspected: proxy or VPN indicators. Informational.
	ViolationProxySuspected ViolationType = "PROXY_SUSPECTED"
)

// Severity grades a violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Violation is one finding against an upload.
type Violation struct {
	Type             ViolationType `json:"type"`
	Severity         Severity      `json:"severity"`
	Message          string        `json:"message"`
	Blocked          bool          `json:"blocked"`
	RiskContribution int           `json:"risk_contribution"`
	Appealable       bool          `json:"appealable"`
}

// Decision is the outcome of an assessment.
type Decision string

const (
	DecisionAllow               Decision = "ALLOW"
	DecisionAllowWithMonitoring Decision = "ALLOW_WITH_MONITORING"
	DecisionFlagForReview       Decision = "FLAG_FOR_REVIEW"
	DecisionBlock               Decision = "BLOCK"
)

// RiskAssessment is the aggregated result for one UploadEvent.
type RiskAssessment struct {
	AssessmentID string      `json:"assessment_id"`
	ContentID    string      `json:"content_id"`
	Violations   []Violation `json:"violations"`
	RiskScore    int         `json:"risk_score"`
	Decision     Decision    `json:"decision"`
	EvaluatedAt  time.Time   `json:"evaluated_at"`

	// RateLimited is set when admission was refused before any signal ran.
	RateLimited bool          `json:"rate_limited,omitempty"`
	RetryAfter  time.Duration `json:"-"`

	// RetryAfterSeconds mirrors RetryAfter for JSON clients.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// HasViolation reports whether the assessment contains a violation of type t.
func (a *RiskAssessment) HasViolation(t ViolationType) bool {
	for i := range a.Violations {
		if a.Violations[i].Type == t {
			return true
		}
	}
	return false
}

// Blocked reports whether the decision is BLOCK.
func (a *RiskAssessment) Blocked() bool {
	return a.Decision == DecisionBlock
}

// ViolationTypes returns the types in assessment order.
func (a *RiskAssessment) ViolationTypes() []ViolationType {
	types := make([]ViolationType, 0, len(a.Violations))
	for i := range a.Violations {
		types = append(types, a.Violations[i].Type)
	}
	return types
}
