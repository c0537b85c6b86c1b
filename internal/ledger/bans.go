// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

// ProbingReason is the reason recorded on automatic probing bans.
const ProbingReason = "Repeated blocked upload attempts"

// TempBan applies a temporary ban of duration. When escalation is enabled and
// the user has now collected enough temporary bans, a permanent ban is
// applied as well and returned instead.
func (l *Ledger) TempBan(ctx context.Context, userID, reason string, duration time.Duration, actor audit.Actor) (*models.Ban, error) {
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}
	unlock := l.locks.Lock(userID)
	defer unlock()
	applied, err := l.applyBan(ctx, userID, models.BanTemporary, reason, duration, false)
	if err != nil {
		return nil, err
	}
	return l.announce(ctx, applied, actor, SourceOperator), nil
}

// PermBan applies a permanent ban.
func (l *Ledger) PermBan(ctx context.Context, userID, reason string, actor audit.Actor) (*models.Ban, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()
	applied, err := l.applyBan(ctx, userID, models.BanPermanent, reason, 0, false)
	if err != nil {
		return nil, err
	}
	return l.announce(ctx, applied, actor, SourceOperator), nil
}

// LiftBan ends every ban active for the user and returns the one that was in
// force. It returns ErrNoActiveBan when there is none.
func (l *Ledger) LiftBan(ctx context.Context, userID string, actor audit.Actor) (*models.Ban, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	now := l.now().UTC()
	var lifted *models.Ban
	err := l.db.Update(ctx, func(tx *store.Tx) error {
		lifted = nil
		bans, err := tx.Bans(userID)
		if err != nil {
			return err
		}
		lifted = activeBan(bans, now)
		if lifted == nil {
			return ErrNoActiveBan
		}
		for i := range bans {
			if !bans[i].ActiveAt(now) {
				continue
			}
			bans[i].LiftedAt = &now
			bans[i].LiftedBy = actor.ID
			if err := tx.PutBan(&bans[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lift ban: %w", err)
	}

	lifted.LiftedAt = &now
	lifted.LiftedBy = actor.ID
	l.audit.Log(ctx, audit.NewBanLiftedEvent(lifted, actor))
	logging.Ctx(ctx).Info().
		Str("component", "ledger").
		Str("user_id", logging.RedactUserID(userID)).
		Str("by", actor.ID).
		Msg("ban lifted")
	return lifted, nil
}

// DetectProbing counts the user's blocked, non-false-positive attempts in the
// probe window before now. It must run before the current blocked attempt is
// recorded; reaching the threshold applies a temporary ban unless one is
// already active. It returns the applied ban or nil.
func (l *Ledger) DetectProbing(ctx context.Context, userID string, now time.Time) (*models.Ban, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()
	return l.detectProbing(ctx, userID, now)
}

// RecordOutcome stores a, and when a was blocked first runs the probing
// detector against the attempts before it. Both happen under the user's lock
// so two concurrent uploads cannot both see the pre-threshold count.
func (l *Ledger) RecordOutcome(ctx context.Context, a *models.AttemptRecord) (*models.Ban, error) {
	unlock := l.locks.Lock(a.UserID)
	defer unlock()

	var ban *models.Ban
	if a.Blocked {
		now := a.CreatedAt
		if now.IsZero() {
			now = l.now()
		}
		var err error
		if ban, err = l.detectProbing(ctx, a.UserID, now); err != nil {
			return nil, err
		}
	}
	if err := l.recordAttempt(ctx, a); err != nil {
		return ban, err
	}
	return ban, nil
}

func (l *Ledger) detectProbing(ctx context.Context, userID string, now time.Time) (*models.Ban, error) {
	if l.cfg.ProbeThreshold <= 0 {
		return nil, nil
	}

	var prior int
	if err := l.db.View(ctx, func(tx *store.Tx) error {
		recent, err := tx.AttemptsSince(userID, now.Add(-l.cfg.ProbeWindow))
		if err != nil {
			return err
		}
		prior = 0
		for i := range recent {
			if recent[i].Blocked && !recent[i].FalsePositive && !recent[i].CreatedAt.After(now) {
				prior++
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("detect probing: %w", err)
	}
	if prior < l.cfg.ProbeThreshold {
		return nil, nil
	}

	applied, err := l.applyBan(ctx, userID, models.BanTemporary, ProbingReason, l.cfg.TempBanDuration, true)
	if err != nil || applied == nil {
		return nil, err
	}
	logging.Ctx(ctx).Warn().
		Str("component", "ledger").
		Str("user_id", logging.RedactUserID(userID)).
		Int("blocked_attempts", prior+1).
		Dur("window", l.cfg.ProbeWindow).
		Msg("probing detected, temporary ban applied")
	return l.announce(ctx, applied, audit.SystemActor(), SourceProbing), nil
}

// appliedBans is what one applyBan transaction wrote.
type appliedBans struct {
	primary   *models.Ban
	escalated *models.Ban
}

// applyBan writes a ban in one transaction. With skipIfActive an existing
// active ban makes it a no-op and the result is nil. Temporary bans may also
// write an escalation ban.
func (l *Ledger) applyBan(ctx context.Context, userID string, banType models.BanType, reason string, duration time.Duration, skipIfActive bool) (*appliedBans, error) {
	now := l.now().UTC()
	var out *appliedBans
	err := l.db.Update(ctx, func(tx *store.Tx) error {
		out = nil
		bans, err := tx.Bans(userID)
		if err != nil {
			return err
		}
		if skipIfActive && activeBan(bans, now) != nil {
			return nil
		}

		ban := newBan(userID, banType, reason, now, duration)
		if err := tx.PutBan(ban); err != nil {
			return err
		}
		out = &appliedBans{primary: ban}

		if banType == models.BanTemporary && l.shouldEscalate(append(bans, *ban), now) {
			perm := newBan(userID, models.BanPermanent, fmt.Sprintf("%d temporary bans within %s", l.cfg.PermBanAfterTempBans, l.cfg.StrikeWindow), now, 0)
			if err := tx.PutBan(perm); err != nil {
				return err
			}
			out.escalated = perm
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply ban: %w", err)
	}
	return out, nil
}

func (l *Ledger) shouldEscalate(bans []models.Ban, now time.Time) bool {
	if l.cfg.PermBanAfterTempBans <= 0 {
		return false
	}
	since := now.Add(-l.cfg.StrikeWindow)
	n := 0
	for i := range bans {
		if bans[i].BanType == models.BanTemporary && !bans[i].CreatedAt.Before(since) {
			n++
		}
	}
	return n >= l.cfg.PermBanAfterTempBans
}

// announce records metrics and audit events for applied and returns the ban
// now in force.
func (l *Ledger) announce(ctx context.Context, applied *appliedBans, actor audit.Actor, source string) *models.Ban {
	if applied == nil {
		return nil
	}
	metrics.RecordBan(string(applied.primary.BanType), source)
	l.audit.Log(ctx, audit.NewBanEvent(applied.primary, actor, source))
	if applied.escalated == nil {
		return applied.primary
	}
	metrics.RecordBan(string(models.BanPermanent), SourceEscalation)
	l.audit.Log(ctx, audit.NewBanEvent(applied.escalated, audit.SystemActor(), SourceEscalation))
	logging.Ctx(ctx).Warn().
		Str("component", "ledger").
		Str("user_id", logging.RedactUserID(applied.escalated.UserID)).
		Msg("temporary ban limit reached, escalated to permanent")
	return applied.escalated
}

func newBan(userID string, banType models.BanType, reason string, now time.Time, duration time.Duration) *models.Ban {
	b := &models.Ban{
		ID:        uuid.NewString(),
		UserID:    userID,
		BanType:   banType,
		Reason:    reason,
		CreatedAt: now,
	}
	if banType == models.BanTemporary {
		exp := now.Add(duration)
		b.ExpiresAt = &exp
	}
	return b
}
