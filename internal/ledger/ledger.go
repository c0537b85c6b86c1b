// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package ledger tracks strikes and bans per user.
//
// A user's standing is derived at read time from their strike and ban
// history; nothing stored ever needs to be expired by a background job.
// Mutations for one user are serialized by a per-user mutex inside the
// process and by Badger's optimistic transactions across it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

var (
	// ErrNoActiveBan is returned by LiftBan when there is nothing to lift.
	ErrNoActiveBan = errors.New("no active ban")

	// ErrInvalidDuration is returned for a non-positive temporary ban length.
	ErrInvalidDuration = errors.New("ban duration must be positive")
)

// Ban sources recorded in metrics and audit metadata.
const (
	SourceProbing    = "probing"
	SourceEscalation = "escalation"
	SourceOperator   = "operator"
)

// Config holds the ledger policy.
type Config struct {
	// StrikeWindow is how long a strike stays active.
	StrikeWindow time.Duration

	// ProbeThreshold prior blocked attempts inside ProbeWindow make the next
	// blocked attempt trigger a TempBanDuration ban.
	ProbeThreshold  int
	ProbeWindow     time.Duration
	TempBanDuration time.Duration

	// PermBanAfterTempBans escalates to a permanent ban once this many
	// temporary bans fall inside StrikeWindow. Zero disables escalation.
	PermBanAfterTempBans int
}

// ConfigFrom maps the ledger config section.
func ConfigFrom(c config.LedgerConfig) Config {
	return Config{
		StrikeWindow:         c.StrikeWindow,
		ProbeThreshold:       c.ProbeThreshold,
		ProbeWindow:          c.ProbeWindow,
		TempBanDuration:      c.TempBanDuration,
		PermBanAfterTempBans: c.PermBanAfterTempBans,
	}
}

// Ledger is the ban and strike ledger.
type Ledger struct {
	db    *store.Store
	cfg   Config
	locks *keyedMutex
	audit audit.Recorder
	now   func() time.Time
	log   zerolog.Logger
}

// New creates a Ledger. rec may be nil.
func New(db *store.Store, cfg Config, rec audit.Recorder) *Ledger {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Ledger{
		db:    db,
		cfg:   cfg,
		locks: newKeyedMutex(),
		audit: rec,
		now:   time.Now,
		log:   logging.WithComponent("ledger"),
	}
}

// StrikeHistory returns every strike recorded for the user, oldest first,
// including expired and false-positive ones.
func (l *Ledger) StrikeHistory(ctx context.Context, userID string) ([]models.UserStrike, error) {
	var strikes []models.UserStrike
	err := l.db.View(ctx, func(tx *store.Tx) error {
		var err error
		strikes, err = tx.Strikes(userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("strike history: %w", err)
	}
	return strikes, nil
}

// ActiveBan returns the ban currently in force, or nil. A permanent ban wins
// over a temporary one; otherwise the latest expiry wins.
func (l *Ledger) ActiveBan(ctx context.Context, userID string) (*models.Ban, error) {
	var active *models.Ban
	err := l.db.View(ctx, func(tx *store.Tx) error {
		bans, err := tx.Bans(userID)
		if err != nil {
			return err
		}
		active = activeBan(bans, l.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("active ban: %w", err)
	}
	return active, nil
}

func activeBan(bans []models.Ban, now time.Time) *models.Ban {
	var best *models.Ban
	for i := range bans {
		b := &bans[i]
		if !b.ActiveAt(now) {
			continue
		}
		switch {
		case best == nil:
			best = b
		case b.BanType == models.BanPermanent && best.BanType != models.BanPermanent:
			best = b
		case b.BanType == best.BanType && b.BanType == models.BanTemporary && b.ExpiresAt.After(*best.ExpiresAt):
			best = b
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Standing derives the user's current state.
func (l *Ledger) Standing(ctx context.Context, userID string) (*models.UserStanding, error) {
	now := l.now()
	var standing models.UserStanding
	err := l.db.View(ctx, func(tx *store.Tx) error {
		strikes, err := tx.Strikes(userID)
		if err != nil {
			return err
		}
		bans, err := tx.Bans(userID)
		if err != nil {
			return err
		}
		standing = deriveStanding(userID, strikes, bans, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("standing: %w", err)
	}
	return &standing, nil
}

func deriveStanding(userID string, strikes []models.UserStrike, bans []models.Ban, now time.Time) models.UserStanding {
	s := models.UserStanding{
		UserID:        userID,
		ActiveStrikes: models.CountActiveStrikes(strikes, now),
		ActiveBan:     activeBan(bans, now),
	}
	s.Restricted = s.ActiveStrikes >= 1
	switch {
	case s.ActiveBan != nil && s.ActiveBan.BanType == models.BanPermanent:
		s.State = models.StatePermBanned
	case s.ActiveBan != nil:
		s.State = models.StateTempBanned
	case s.ActiveStrikes > 0:
		s.State = models.StateStriked
	default:
		s.State = models.StateClean
	}
	return s
}

// RecordBlock appends a strike for a blocked upload.
func (l *Ledger) RecordBlock(ctx context.Context, userID, contentID, reason string) (*models.UserStrike, error) {
	unlock := l.locks.Lock(userID)
	defer unlock()

	now := l.now().UTC()
	strike := &models.UserStrike{
		ID:         uuid.NewString(),
		UserID:     userID,
		ContentID:  contentID,
		Reason:     reason,
		StrikeDate: now,
		ExpiresAt:  now.Add(l.cfg.StrikeWindow),
	}
	if err := l.db.Update(ctx, func(tx *store.Tx) error {
		return tx.PutStrike(strike)
	}); err != nil {
		return nil, fmt.Errorf("record strike: %w", err)
	}

	metrics.RecordStrike()
	l.audit.Log(ctx, audit.NewStrikeEvent(strike))
	logging.Ctx(ctx).Info().
		Str("component", "ledger").
		Str("user_id", logging.RedactUserID(userID)).
		Str("content_id", contentID).
		Str("reason", reason).
		Msg("strike recorded")
	return strike, nil
}

// RecordAttempt appends to the user's attempt log.
func (l *Ledger) RecordAttempt(ctx context.Context, a *models.AttemptRecord) error {
	unlock := l.locks.Lock(a.UserID)
	defer unlock()
	return l.recordAttempt(ctx, a)
}

func (l *Ledger) recordAttempt(ctx context.Context, a *models.AttemptRecord) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now().UTC()
	}
	if err := l.db.Update(ctx, func(tx *store.Tx) error {
		return tx.PutAttempt(a)
	}); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Attempts returns the user's attempt log, oldest first.
func (l *Ledger) Attempts(ctx context.Context, userID string) ([]models.AttemptRecord, error) {
	var out []models.AttemptRecord
	err := l.db.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.Attempts(userID)
		return err
	})
	return out, err
}
