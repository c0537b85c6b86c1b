// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package risk aggregates signal violations into a score and a decision.
//
// Assess is a pure function of its inputs. It never reads the clock, the
// store or any global state, so identical inputs always yield identical
// assessments and the scorer can be tested exhaustively in isolation.
package risk

import (
	"sort"
	"time"

	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/models"
)

const (
	// MaxScore caps the aggregated score.
	MaxScore = 100

	repeatOffenderStrikes = 2
	repeatOffenderWeight  = 20
	suspiciousSizeWeight  = 5
)

// Config holds the scorer thresholds.
type Config struct {
	BlockThreshold  int
	ReviewThreshold int

	// Uploads sized within [EpisodeSizeMin, EpisodeSizeMax] look like a
	// typical ripped episode.
	EpisodeSizeMin int64
	EpisodeSizeMax int64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BlockThreshold:  80,
		ReviewThreshold: 50,
		EpisodeSizeMin:  150 << 20,
		EpisodeSizeMax:  500 << 20,
	}
}

// ConfigFrom maps the risk config section.
func ConfigFrom(c config.RiskConfig) Config {
	return Config{
		BlockThreshold:  c.BlockThreshold,
		ReviewThreshold: c.ReviewThreshold,
		EpisodeSizeMin:  c.EpisodeSizeMinBytes,
		EpisodeSizeMax:  c.EpisodeSizeMaxBytes,
	}
}

// Scorer turns violations into a RiskAssessment.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Assess scores violations for an upload of sizeBytes by a user with the
// given strike history, evaluated at now. The input slice is not modified.
func (s *Scorer) Assess(violations []models.Violation, strikeHistory []models.UserStrike, sizeBytes int64, now time.Time) models.RiskAssessment {
	out := make([]models.Violation, len(violations), len(violations)+2)
	copy(out, violations)

	if hasScoringViolation(out) {
		if models.CountActiveStrikes(strikeHistory, now) >= repeatOffenderStrikes {
			out = append(out, RepeatOffender())
		}
		if sizeBytes >= s.cfg.EpisodeSizeMin && sizeBytes <= s.cfg.EpisodeSizeMax {
			out = append(out, SuspiciousSize())
		}
	}

	sortViolations(out)

	score := 0
	blocked := false
	forced := false
	for i := range out {
		v := &out[i]
		score += v.RiskContribution
		blocked = blocked || v.Blocked
		forced = forced || forcesMax(v.Type)
	}
	if forced || score > MaxScore {
		score = MaxScore
	}

	return models.RiskAssessment{
		Violations:  out,
		RiskScore:   score,
		Decision:    s.decide(out, score, blocked),
		EvaluatedAt: now,
	}
}

func (s *Scorer) decide(violations []models.Violation, score int, blocked bool) models.Decision {
	var d models.Decision
	switch {
	case blocked || score >= s.cfg.BlockThreshold:
		return models.DecisionBlock
	case score >= s.cfg.ReviewThreshold:
		return models.DecisionFlagForReview
	case len(violations) > 0:
		d = models.DecisionAllowWithMonitoring
	default:
		d = models.DecisionAllow
	}

	for i := range violations {
		if violations[i].Type == models.ViolationAccountEvasion {
			return models.DecisionFlagForReview
		}
	}
	return d
}

// forcesMax reports whether a violation type pins the score at MaxScore: an
// exact hash match, or a title match carrying distribution markers.
func forcesMax(t models.ViolationType) bool {
	return t == models.ViolationBlockedHash || t == models.ViolationCopyrightedContent
}

// hasScoringViolation reports whether any violation contributes to the score
// or blocks on its own. Advisory and informational findings do not count.
func hasScoringViolation(violations []models.Violation) bool {
	for i := range violations {
		if violations[i].RiskContribution > 0 || violations[i].Blocked {
			return true
		}
	}
	return false
}

// sortViolations orders by severity, most severe first, then by type.
func sortViolations(v []models.Violation) {
	sort.SliceStable(v, func(i, j int) bool {
		ri, rj := v[i].Severity.Rank(), v[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return v[i].Type < v[j].Type
	})
}

// RepeatOffender is added for users with two or more active strikes.
func RepeatOffender() models.Violation {
	return models.Violation{
		Type:             models.ViolationRepeatOffender,
		Severity:         models.SeverityHigh,
		Message:          "User has multiple active strikes",
		RiskContribution: repeatOffenderWeight,
	}
}

// SuspiciousSize is added for uploads sized like a typical episode.
func SuspiciousSize() models.Violation {
	return models.Violation{
		Type:             models.ViolationSuspiciousSize,
		Severity:         models.SeverityLow,
		Message:          "File size matches a typical episode",
		RiskContribution: suspiciousSizeWeight,
	}
}

// CheckError is the fail-secure violation for a signal that did not answer.
func CheckError(signal string) models.Violation {
	return models.Violation{
		Type:             models.ViolationCheckError,
		Severity:         models.SeverityCritical,
		Message:          "Content check unavailable: " + signal,
		Blocked:          true,
		RiskContribution: MaxScore,
		Appealable:       true,
	}
}

// UserBanned is the violation for an uploader with an active ban.
func UserBanned(ban *models.Ban) models.Violation {
	msg := "Account is permanently banned"
	if ban.BanType == models.BanTemporary && ban.ExpiresAt != nil {
		msg = "Account is banned until " + ban.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return models.Violation{
		Type:             models.ViolationUserBanned,
		Severity:         models.SeverityCritical,
		Message:          msg,
		Blocked:          true,
		RiskContribution: MaxScore,
		Appealable:       false,
	}
}
