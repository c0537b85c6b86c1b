// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package audit

import (
	"fmt"
	"time"

	"github.com/tomtom215/warden/internal/models"
)

// Constructors for the events the service emits. Metadata never carries raw
// content hashes, fingerprints or addresses.

// NewDecisionEvent records the outcome of one upload assessment.
func NewDecisionEvent(userID string, a *models.RiskAssessment) *Event {
	sev, outcome := SeverityInfo, OutcomeSuccess
	switch a.Decision {
	case models.DecisionBlock:
		sev, outcome = SeverityCritical, OutcomeBlocked
	case models.DecisionFlagForReview:
		sev = SeverityWarning
	}
	return &Event{
		Type:        EventTypeDecision,
		Severity:    sev,
		Outcome:     outcome,
		Actor:       Actor{ID: userID, Type: ActorUser},
		Target:      &Target{ID: a.ContentID, Type: "content"},
		Action:      "assess",
		Description: fmt.Sprintf("Upload assessed: %s (score %d)", a.Decision, a.RiskScore),
		Metadata: mustJSON(map[string]any{
			"assessment_id": a.AssessmentID,
			"decision":      a.Decision,
			"risk_score":    a.RiskScore,
			"violations":    a.ViolationTypes(),
		}),
	}
}

// NewRateLimitedEvent records a refused admission.
func NewRateLimitedEvent(userID, contentID string, retryAfter time.Duration, windows []string) *Event {
	return &Event{
		Type:        EventTypeRateLimited,
		Severity:    SeverityWarning,
		Outcome:     OutcomeBlocked,
		Actor:       Actor{ID: userID, Type: ActorUser},
		Target:      &Target{ID: contentID, Type: "content"},
		Action:      "admit",
		Description: "Upload refused by rate limiter",
		Metadata: mustJSON(map[string]any{
			"retry_after_seconds": int(retryAfter.Round(time.Second) / time.Second),
			"windows":             windows,
		}),
	}
}

// NewValidationRejectedEvent records an upload event refused as malformed.
// fields names the offending fields; their values are not recorded.
func NewValidationRejectedEvent(userID, contentID string, fields []string) *Event {
	e := &Event{
		Type:        EventTypeValidationRejected,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       Actor{ID: userID, Type: ActorUser},
		Action:      "assess",
		Description: "Upload event failed validation",
		Metadata:    mustJSON(map[string]any{"fields": fields}),
	}
	if contentID != "" {
		e.Target = &Target{ID: contentID, Type: "content"}
	}
	return e
}

// NewStrikeEvent records a strike.
func NewStrikeEvent(s *models.UserStrike) *Event {
	return &Event{
		Type:        EventTypeStrike,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       SystemActor(),
		Target:      &Target{ID: s.UserID, Type: "user"},
		Action:      "strike",
		Description: "Strike recorded: " + s.Reason,
		Metadata: mustJSON(map[string]any{
			"strike_id":  s.ID,
			"content_id": s.ContentID,
			"expires_at": s.ExpiresAt,
		}),
	}
}

// NewBanEvent records a ban. actor is the system for automated bans.
func NewBanEvent(b *models.Ban, actor Actor, source string) *Event {
	meta := map[string]any{
		"ban_id":   b.ID,
		"ban_type": b.BanType,
		"source":   source,
	}
	if b.ExpiresAt != nil {
		meta["expires_at"] = *b.ExpiresAt
	}
	return &Event{
		Type:        EventTypeBan,
		Severity:    SeverityCritical,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: b.UserID, Type: "user"},
		Action:      "ban",
		Description: fmt.Sprintf("%s ban applied: %s", b.BanType, b.Reason),
		Metadata:    mustJSON(meta),
	}
}

// NewBanLiftedEvent records an operator lifting a ban.
func NewBanLiftedEvent(b *models.Ban, actor Actor) *Event {
	return &Event{
		Type:        EventTypeBanLifted,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       actor,
		Target:      &Target{ID: b.UserID, Type: "user"},
		Action:      "lift_ban",
		Description: fmt.Sprintf("%s ban lifted", b.BanType),
		Metadata:    mustJSON(map[string]any{"ban_id": b.ID}),
	}
}

// NewAppealSubmittedEvent records a filed appeal.
func NewAppealSubmittedEvent(a *models.Appeal) *Event {
	return &Event{
		Type:        EventTypeAppealSubmitted,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       Actor{ID: a.UserID, Type: ActorUser},
		Target:      &Target{ID: a.ID, Type: "appeal"},
		Action:      "submit_appeal",
		Description: "Appeal submitted",
		Metadata:    mustJSON(map[string]any{"content_id": a.BlockedContentID}),
	}
}

// NewAppealReviewedEvent records a resolved appeal.
func NewAppealReviewedEvent(a *models.Appeal) *Event {
	return &Event{
		Type:        EventTypeAppealReviewed,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       Actor{ID: a.Reviewer, Type: ActorReviewer},
		Target:      &Target{ID: a.ID, Type: "appeal"},
		Action:      "review_appeal",
		Description: "Appeal " + string(a.Status),
		Metadata: mustJSON(map[string]any{
			"content_id": a.BlockedContentID,
			"user_id":    a.UserID,
			"decision":   a.Status,
		}),
	}
}

// NewAppealRejectedEvent records an appeal call refused with code. action is
// submit_appeal or review_appeal; target is the content or the appeal.
func NewAppealRejectedEvent(actor Actor, action string, target *Target, code string) *Event {
	return &Event{
		Type:        EventTypeAppealRejected,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       actor,
		Target:      target,
		Action:      action,
		Description: "Appeal request rejected: " + code,
		Metadata:    mustJSON(map[string]any{"code": code}),
	}
}

// NewEvasionSuspectedEvent records a likely ban-evasion attempt.
func NewEvasionSuspectedEvent(userID, contentID string) *Event {
	return &Event{
		Type:        EventTypeEvasionSuspected,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       Actor{ID: userID, Type: ActorUser},
		Target:      &Target{ID: contentID, Type: "content"},
		Action:      "correlate",
		Description: "Upload linked to other accounts with recent violations",
	}
}
