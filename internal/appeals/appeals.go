// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package appeals implements the appeal workflow for blocked uploads.
//
// An appeal moves from PENDING_REVIEW to APPROVED or DENIED exactly once.
// Approval restores the content, removes its blocked hash and marks the
// related strikes and attempts as false positives in a single transaction.
package appeals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

var (
	ErrAppealNotFound        = errors.New("appeal not found")
	ErrAppealAlreadyResolved = errors.New("appeal already resolved")
	ErrAppealAlreadyPending  = errors.New("appeal already pending for this content")
	ErrContentNotFound       = errors.New("blocked content not found")
	ErrInvalidDecision       = errors.New("decision must be APPROVED or DENIED")
)

// Notifier tells users and reviewers about appeal activity.
type Notifier interface {
	AppealSubmitted(ctx context.Context, a *models.Appeal) error
	AppealDecided(ctx context.Context, a *models.Appeal) error
}

// ContentRestorer republishes content after an approved appeal.
type ContentRestorer interface {
	Restore(ctx context.Context, contentID string) error
}

// Service runs the appeal workflow.
type Service struct {
	db       *store.Store
	notifier Notifier
	restorer ContentRestorer
	audit    audit.Recorder
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the notifier. The default only logs.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRestorer sets the content restorer. The default does nothing.
func WithRestorer(r ContentRestorer) Option {
	return func(s *Service) { s.restorer = r }
}

// WithRecorder sets the audit recorder.
func WithRecorder(rec audit.Recorder) Option {
	return func(s *Service) { s.audit = rec }
}

// New creates a Service.
func New(db *store.Store, opts ...Option) *Service {
	s := &Service{
		db:       db,
		notifier: LogNotifier{},
		restorer: nopRestorer{},
		audit:    audit.Nop{},
		now:      time.Now,
		log:      logging.WithComponent("appeals"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit files an appeal for blockedContentID. The content must exist, be
// blocked and belong to userID; anything else is ErrContentNotFound so the
// caller learns nothing about other users' content.
func (s *Service) Submit(ctx context.Context, userID, blockedContentID, reason string, evidence map[string]string) (*models.Appeal, error) {
	appeal := &models.Appeal{
		ID:               uuid.NewString(),
		UserID:           userID,
		BlockedContentID: blockedContentID,
		Reason:           reason,
		Evidence:         evidence,
		Status:           models.AppealPending,
		SubmittedAt:      s.now().UTC(),
	}

	err := s.db.Update(ctx, func(tx *store.Tx) error {
		rec, err := tx.Content(blockedContentID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrContentNotFound
		}
		if err != nil {
			return err
		}
		if rec.UserID != userID || rec.Status != models.ContentBlocked {
			return ErrContentNotFound
		}

		pending, err := tx.PendingAppealFor(blockedContentID)
		if err != nil {
			return err
		}
		if pending != "" {
			return ErrAppealAlreadyPending
		}
		return tx.PutAppeal(appeal, "")
	})
	if err != nil {
		s.rejected(ctx, audit.Actor{ID: userID, Type: audit.ActorUser}, "submit_appeal",
			&audit.Target{ID: blockedContentID, Type: "content"}, err)
		return nil, fmt.Errorf("submit appeal: %w", err)
	}

	metrics.RecordAppealSubmitted()
	s.audit.Log(ctx, audit.NewAppealSubmittedEvent(appeal))
	if err := s.notifier.AppealSubmitted(ctx, appeal); err != nil {
		s.log.Warn().Err(err).Str("appeal_id", appeal.ID).Msg("appeal submitted notification failed")
	}
	logging.Ctx(ctx).Info().
		Str("component", "appeals").
		Str("appeal_id", appeal.ID).
		Str("content_id", blockedContentID).
		Msg("appeal submitted")
	return appeal, nil
}

// Review decides a pending appeal. A resolved appeal is returned unchanged
// together with ErrAppealAlreadyResolved.
func (s *Service) Review(ctx context.Context, appealID, reviewer string, decision models.AppealStatus, notes string) (*models.Appeal, error) {
	reviewerActor := audit.Actor{ID: reviewer, Type: audit.ActorReviewer}
	target := &audit.Target{ID: appealID, Type: "appeal"}
	if !decision.Resolved() {
		s.rejected(ctx, reviewerActor, "review_appeal", target, ErrInvalidDecision)
		return nil, ErrInvalidDecision
	}

	now := s.now().UTC()
	var (
		appeal   *models.Appeal
		resolved bool
	)
	err := s.db.Update(ctx, func(tx *store.Tx) error {
		resolved = false
		a, err := tx.Appeal(appealID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAppealNotFound
		}
		if err != nil {
			return err
		}
		appeal = a
		if a.Status.Resolved() {
			resolved = true
			return nil
		}

		a.Status = decision
		a.Reviewer = reviewer
		a.ReviewNotes = notes
		a.ReviewedAt = &now

		if decision == models.AppealApproved {
			if err := approve(tx, a, now); err != nil {
				return err
			}
		}
		return tx.PutAppeal(a, models.AppealPending)
	})
	if err != nil {
		s.rejected(ctx, reviewerActor, "review_appeal", target, err)
		return nil, fmt.Errorf("review appeal: %w", err)
	}
	if resolved {
		s.rejected(ctx, reviewerActor, "review_appeal", target, ErrAppealAlreadyResolved)
		return appeal, ErrAppealAlreadyResolved
	}

	metrics.RecordAppealReviewed(string(decision))
	s.audit.Log(ctx, audit.NewAppealReviewedEvent(appeal))
	if decision == models.AppealApproved {
		if err := s.restorer.Restore(ctx, appeal.BlockedContentID); err != nil {
			s.log.Warn().Err(err).Str("content_id", appeal.BlockedContentID).Msg("content restore failed")
		}
	}
	if err := s.notifier.AppealDecided(ctx, appeal); err != nil {
		s.log.Warn().Err(err).Str("appeal_id", appeal.ID).Msg("appeal decision notification failed")
	}
	logging.Ctx(ctx).Info().
		Str("component", "appeals").
		Str("appeal_id", appeal.ID).
		Str("decision", string(decision)).
		Str("reviewer", reviewer).
		Msg("appeal reviewed")
	return appeal, nil
}

// rejected audits a refused appeal call.
func (s *Service) rejected(ctx context.Context, actor audit.Actor, action string, target *audit.Target, err error) {
	s.audit.Log(ctx, audit.NewAppealRejectedEvent(actor, action, target, rejectionCode(err)))
}

func rejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrAppealNotFound):
		return "APPEAL_NOT_FOUND"
	case errors.Is(err, ErrAppealAlreadyResolved):
		return "APPEAL_ALREADY_RESOLVED"
	case errors.Is(err, ErrAppealAlreadyPending):
		return "APPEAL_ALREADY_PENDING"
	case errors.Is(err, ErrContentNotFound):
		return "CONTENT_NOT_FOUND"
	case errors.Is(err, ErrInvalidDecision):
		return "VALIDATION_ERROR"
	case errors.Is(err, store.ErrConcurrencyConflict):
		return "CONCURRENCY_CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}

// approve reverses the enforcement side effects of the blocked upload. A
// block that came from a blocklist match removes the matched hash; any other
// block only removes a hash this upload itself added.
func approve(tx *store.Tx, a *models.Appeal, now time.Time) error {
	rec, err := tx.Content(a.BlockedContentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		rec.Status = models.ContentActive
		rec.UpdatedAt = now
		if err := tx.PutContent(rec); err != nil {
			return err
		}
		if rec.MatchedHash != "" {
			if _, err := blocklist.RemoveMatchedHash(tx, rec.MatchedHash); err != nil {
				return err
			}
		}
	}

	if _, err := blocklist.RemoveHash(tx, a.BlockedContentID); err != nil {
		return err
	}
	if _, err := tx.MarkStrikesFalsePositive(a.BlockedContentID); err != nil {
		return err
	}
	_, err = tx.MarkAttemptsFalsePositive(a.BlockedContentID)
	return err
}

// Get returns the appeal with id.
func (s *Service) Get(ctx context.Context, id string) (*models.Appeal, error) {
	var a *models.Appeal
	err := s.db.View(ctx, func(tx *store.Tx) error {
		var err error
		a, err = tx.Appeal(id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAppealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appeal: %w", err)
	}
	return a, nil
}

// List returns up to limit appeals with status, oldest first.
func (s *Service) List(ctx context.Context, status models.AppealStatus, limit int) ([]models.Appeal, error) {
	var out []models.Appeal
	err := s.db.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.AppealsByStatus(status, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	return out, nil
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]models.Appeal, error) {
	return s.List(ctx, models.AppealPending, limit)
}

// Notifiers fans each notification out to every member. All members are
// called; the errors are joined.
type Notifiers []Notifier

// AppealSubmitted implements Notifier.
func (ns Notifiers) AppealSubmitted(ctx context.Context, a *models.Appeal) error {
	var errs []error
	for _, n := range ns {
		errs = append(errs, n.AppealSubmitted(ctx, a))
	}
	return errors.Join(errs...)
}

// AppealDecided implements Notifier.
func (ns Notifiers) AppealDecided(ctx context.Context, a *models.Appeal) error {
	var errs []error
	for _, n := range ns {
		errs = append(errs, n.AppealDecided(ctx, a))
	}
	return errors.Join(errs...)
}

// LogNotifier logs appeal activity instead of delivering it.
type LogNotifier struct{}

// AppealSubmitted implements Notifier.
func (LogNotifier) AppealSubmitted(ctx context.Context, a *models.Appeal) error {
	logging.Ctx(ctx).Info().Str("appeal_id", a.ID).Msg("appeal awaiting review")
	return nil
}

// AppealDecided implements Notifier.
func (LogNotifier) AppealDecided(ctx context.Context, a *models.Appeal) error {
	logging.Ctx(ctx).Info().
		Str("appeal_id", a.ID).
		Str("user_id", logging.RedactUserID(a.UserID)).
		Str("status", string(a.Status)).
		Msg("appeal decision ready for user")
	return nil
}

type nopRestorer struct{}

func (nopRestorer) Restore(context.Context, string) error { return nil }
