// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

// operational violations describe the uploader or the system rather than the
// content. They block, but they never strike the user or block the hash.
var operational = map[models.ViolationType]bool{
	models.ViolationCheckError:   true,
	models.ViolationUserBanned:   true,
	models.ViolationBannedDevice: true,
}

// contentBlocked reports whether the content itself earns a block: the
// assessment still blocks when rescored without operational violations.
// Scorer-added violations are dropped too; rescoring adds them back.
func (p *Pipeline) contentBlocked(a *models.RiskAssessment, strikes []models.UserStrike, size int64, now time.Time) bool {
	if !a.Blocked() {
		return false
	}
	var content []models.Violation
	for _, v := range a.Violations {
		if operational[v.Type] || v.Type == models.ViolationRepeatOffender || v.Type == models.ViolationSuspiciousSize {
			continue
		}
		content = append(content, v)
	}
	if len(content) == 0 {
		return false
	}
	rescored := p.scorer.Assess(content, strikes, size, now)
	return rescored.Blocked()
}

// enforce applies the state changes for a scored upload. Failures are logged;
// the assessment already returned to the caller is not changed by them.
func (p *Pipeline) enforce(ctx context.Context, ev *models.UploadEvent, a *models.RiskAssessment, strikes []models.UserStrike, now time.Time) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.MutationTimeout)
	defer cancel()
	log := logging.Ctx(ctx).With().
		Str("component", "pipeline").
		Str("content_id", ev.ContentID).
		Str("user_id", logging.RedactUserID(ev.UploaderID)).
		Logger()

	contentBlock := p.contentBlocked(a, strikes, ev.SizeBytes, now)
	reason := blockReason(a)

	if a.Blocked() {
		rec := &models.ContentRecord{
			ContentID:     ev.ContentID,
			UserID:        ev.UploaderID,
			ContentHash:   ev.ContentHash,
			FileName:      ev.FileName,
			Status:        models.ContentBlocked,
			BlockedReason: reason,
			UpdatedAt:     now,
		}
		if a.HasViolation(models.ViolationBlockedHash) {
			rec.MatchedHash = ev.ContentHash
		}
		var entry *models.BlockedHash
		if contentBlock {
			entry = p.blocklist.Entry(ev.ContentHash, reason, ev.FileName, ev.ContentID)
		}
		err := p.db.Update(mctx, func(tx *store.Tx) error {
			if err := checkContentOwner(tx, rec); err != nil {
				return err
			}
			if err := tx.PutContent(rec); err != nil {
				return err
			}
			if entry == nil {
				return nil
			}
			_, err := blocklist.Insert(tx, entry)
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to record blocked content")
		} else if entry != nil {
			p.blocklist.Committed(entry.ContentHash)
		}
	}

	if contentBlock {
		if _, err := p.ledger.RecordBlock(mctx, ev.UploaderID, ev.ContentID, reason); err != nil {
			log.Error().Err(err).Msg("failed to record strike")
		}
	}

	attempt := &models.AttemptRecord{
		UserID:         ev.UploaderID,
		ContentID:      ev.ContentID,
		ContentHash:    ev.ContentHash,
		FileName:       ev.FileName,
		Blocked:        contentBlock || a.HasViolation(models.ViolationBannedDevice) || a.HasViolation(models.ViolationUserBanned),
		RiskScore:      a.RiskScore,
		Decision:       a.Decision,
		ViolationTypes: a.ViolationTypes(),
		CreatedAt:      now,
	}
	ban, err := p.ledger.RecordOutcome(mctx, attempt)
	if err != nil {
		log.Error().Err(err).Msg("failed to record attempt")
	}
	if ban != nil {
		log.Warn().Str("ban_type", string(ban.BanType)).Msg("uploader banned for repeated blocked attempts")
	}

	if err := p.identity.Record(mctx, ev.UploaderID, ev.Request); err != nil {
		log.Error().Err(err).Msg("failed to record device")
	}
}

// errContentOwned refuses a content record write for an id that another
// uploader already holds.
var errContentOwned = errors.New("content id belongs to another uploader")

func checkContentOwner(tx *store.Tx, rec *models.ContentRecord) error {
	existing, err := tx.Content(rec.ContentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.UserID != rec.UserID {
		return errContentOwned
	}
	return nil
}

// claimContentID replaces a caller-supplied content id that another uploader
// already holds, so enforcement and appeals never cross accounts.
func (p *Pipeline) claimContentID(ctx context.Context, ev *models.UploadEvent) {
	var owner string
	err := p.db.View(ctx, func(tx *store.Tx) error {
		rec, err := tx.Content(ev.ContentID)
		if err != nil {
			return err
		}
		owner = rec.UserID
		return nil
	})
	if err != nil || owner == ev.UploaderID {
		return
	}
	supplied := ev.ContentID
	ev.ContentID = uuid.NewString()
	logging.Ctx(ctx).Warn().
		Str("component", "pipeline").
		Str("supplied_content_id", supplied).
		Str("content_id", ev.ContentID).
		Str("user_id", logging.RedactUserID(ev.UploaderID)).
		Msg("content id held by another uploader, assigned a new one")
}

// blockReason names the most severe blocking violation.
func blockReason(a *models.RiskAssessment) string {
	for _, v := range a.Violations {
		if v.Blocked {
			return string(v.Type)
		}
	}
	if len(a.Violations) > 0 {
		return string(a.Violations[0].Type)
	}
	return ""
}

func (p *Pipeline) finishRateLimited(ctx context.Context, ev *models.UploadEvent, a *models.RiskAssessment, windows []string, d time.Duration) {
	metrics.RecordAssessment("RATE_LIMITED", 0, nil, d)
	p.audit.Log(ctx, audit.NewRateLimitedEvent(ev.UploaderID, ev.ContentID, a.RetryAfter, windows))
	logging.Ctx(ctx).Info().
		Str("component", "pipeline").
		Str("content_id", ev.ContentID).
		Str("user_id", logging.RedactUserID(ev.UploaderID)).
		Strs("windows", windows).
		Dur("retry_after", a.RetryAfter).
		Msg("upload rate limited")
}
