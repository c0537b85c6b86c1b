// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/identity"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/risk"
)

// evaluate fans the signals out, waits for all of them and scores the
// result. It also returns the strike history the scorer saw.
func (p *Pipeline) evaluate(ctx context.Context, ev *models.UploadEvent, now time.Time) (*models.RiskAssessment, []models.UserStrike) {
	var (
		sigViolations   []models.Violation
		hashViolation   *models.Violation
		evasion         *models.Violation
		strikes         []models.UserStrike
		sigErr, hashErr error
		idErr, ledErr   error
	)

	// Signals report failure through their own error variables so one
	// failing signal never cancels the others.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sigViolations, sigErr = bounded(gctx, p.cfg.SignalTimeout, SignalSignature, nil,
			func(context.Context) ([]models.Violation, error) {
				return p.signature.Check(ev.FileName, ev.Metadata), nil
			})
		return nil
	})
	g.Go(func() error {
		hashViolation, hashErr = bounded(gctx, p.cfg.SignalTimeout, SignalBlocklist, p.breakers[SignalBlocklist],
			func(c context.Context) (*models.Violation, error) {
				entry, found, err := p.hashes.CheckHash(c, ev.ContentHash)
				if err != nil || !found {
					return nil, err
				}
				v := blocklist.Violation(entry)
				return &v, nil
			})
		return nil
	})
	g.Go(func() error {
		evasion, idErr = bounded(gctx, p.cfg.SignalTimeout, SignalIdentity, p.breakers[SignalIdentity],
			func(c context.Context) (*models.Violation, error) {
				return p.evasion.DetectAccountEvasion(c, ev.UploaderID, ev.Request)
			})
		return nil
	})
	g.Go(func() error {
		strikes, ledErr = bounded(gctx, p.cfg.SignalTimeout, SignalLedger, p.breakers[SignalLedger],
			func(c context.Context) ([]models.UserStrike, error) {
				return p.ledger.StrikeHistory(c, ev.UploaderID)
			})
		return nil
	})
	_ = g.Wait()

	var violations []models.Violation
	collect := func(name string, err error, found ...models.Violation) {
		if err != nil {
			if v := p.signalFailed(ctx, name, err); v != nil {
				violations = append(violations, *v)
			}
			return
		}
		violations = append(violations, found...)
	}
	collect(SignalSignature, sigErr, sigViolations...)
	collect(SignalBlocklist, hashErr, deref(hashViolation)...)
	collect(SignalIdentity, idErr, deref(evasion)...)
	collect(SignalLedger, ledErr)
	if v := identity.DetectProxy(ev.Request); v != nil {
		violations = append(violations, *v)
	}

	a := p.scorer.Assess(violations, strikes, ev.SizeBytes, now)
	return &a, strikes
}

// screenRefused runs the read-only content signals for an upload the rate
// limiter refused. A refused upload whose content would be blocked is logged
// as a blocked attempt so repeated probing behind the rate limit still
// reaches the probing threshold. It earns no strike and blocks no hash; a
// failed signal is ignored.
func (p *Pipeline) screenRefused(ctx context.Context, ev *models.UploadEvent, now time.Time) {
	violations := p.signature.Check(ev.FileName, ev.Metadata)
	hit, err := bounded(ctx, p.cfg.SignalTimeout, SignalBlocklist, p.breakers[SignalBlocklist],
		func(c context.Context) (*models.Violation, error) {
			entry, found, err := p.hashes.CheckHash(c, ev.ContentHash)
			if err != nil || !found {
				return nil, err
			}
			v := blocklist.Violation(entry)
			return &v, nil
		})
	if err == nil {
		violations = append(violations, deref(hit)...)
	}
	if len(violations) == 0 {
		return
	}
	screened := p.scorer.Assess(violations, nil, ev.SizeBytes, now)
	if !screened.Blocked() {
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.MutationTimeout)
	defer cancel()
	ban, err := p.ledger.RecordOutcome(mctx, &models.AttemptRecord{
		UserID:         ev.UploaderID,
		ContentID:      ev.ContentID,
		ContentHash:    ev.ContentHash,
		FileName:       ev.FileName,
		Blocked:        true,
		RiskScore:      screened.RiskScore,
		Decision:       screened.Decision,
		ViolationTypes: screened.ViolationTypes(),
		RateLimited:    true,
		CreatedAt:      now,
	})
	log := logging.Ctx(ctx).With().
		Str("component", "pipeline").
		Str("content_id", ev.ContentID).
		Str("user_id", logging.RedactUserID(ev.UploaderID)).
		Logger()
	if err != nil {
		log.Error().Err(err).Msg("failed to record refused attempt")
	}
	if ban != nil {
		log.Warn().Str("ban_type", string(ban.BanType)).Msg("uploader banned for repeated blocked attempts")
	}
}

func deref(v *models.Violation) []models.Violation {
	if v == nil {
		return nil
	}
	return []models.Violation{*v}
}

// signalFailed handles a failed signal. Under fail-secure it returns the
// CHECK_ERROR violation to use; otherwise the failure is dropped and nil is
// returned.
func (p *Pipeline) signalFailed(ctx context.Context, name string, err error) *models.Violation {
	if p.cfg.FailSecure {
		logging.Ctx(ctx).Error().
			Err(err).
			Str("component", "pipeline").
			Str("signal", name).
			Msg("signal failed, blocking upload")
		v := risk.CheckError(name)
		return &v
	}
	metrics.RecordSignalDropped(name)
	logging.Ctx(ctx).Warn().
		Err(err).
		Str("component", "pipeline").
		Str("signal", name).
		Msg("signal failed, ignored")
	return nil
}

// single scores a lone short-circuit violation.
func (p *Pipeline) single(v models.Violation, now time.Time) *models.RiskAssessment {
	a := p.scorer.Assess([]models.Violation{v}, nil, 0, now)
	return &a
}
