// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package pipeline assesses one upload end to end.
//
// An assessment runs in four stages:
//
//  1. Short-circuit checks: an active ban on the uploader or on a linked
//     device blocks immediately.
//  2. Admission: the rate limiter either admits the upload or refuses it
//     with a retry-after. A refused upload is still screened against the
//     signature dictionary and the blocklist; when its content would block,
//     the attempt is logged so it counts toward probing. Nothing else about
//     a refused upload changes state.
//  3. Fan-out: the signature matcher, blocklist lookup, evasion check and
//     strike history read run concurrently, each bounded by a timeout and a
//     circuit breaker. The scorer is the fan-in barrier.
//  4. Enforcement: blocked content is recorded with a strike and its hash,
//     the attempt and device are recorded and the probing detector runs.
//
// A signal that fails or times out becomes a CHECK_ERROR violation, which
// blocks, unless fail-secure is disabled in which case it is dropped.
package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/breaker"
	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/identity"
	"github.com/tomtom215/warden/internal/ledger"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/ratelimit"
	"github.com/tomtom215/warden/internal/risk"
	"github.com/tomtom215/warden/internal/store"
	"github.com/tomtom215/warden/internal/validation"
)

// SignatureChecker matches file names and metadata.
type SignatureChecker interface {
	Check(fileName string, metadata map[string]string) []models.Violation
}

// HashLookup finds previously blocked content.
type HashLookup interface {
	CheckHash(ctx context.Context, hash string) (*models.BlockedHash, bool, error)
}

// EvasionDetector links uploads to other accounts.
type EvasionDetector interface {
	DetectAccountEvasion(ctx context.Context, userID string, rc models.RequestContext) (*models.Violation, error)
}

// Config controls the pipeline.
type Config struct {
	// SignalTimeout bounds every signal and short-circuit check.
	SignalTimeout time.Duration

	// MutationTimeout bounds enforcement writes. Enforcement is detached
	// from request cancellation so a disconnecting client cannot skip it.
	MutationTimeout time.Duration

	FailSecure bool

	Breakers config.PipelineConfig
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		SignalTimeout:   2 * time.Second,
		MutationTimeout: 5 * time.Second,
		FailSecure:      true,
		Breakers: config.PipelineConfig{
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      30 * time.Second,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},
	}
}

// ConfigFrom maps the pipeline and risk config sections.
func ConfigFrom(p config.PipelineConfig, r config.RiskConfig) Config {
	cfg := DefaultConfig()
	if p.SignalTimeout > 0 {
		cfg.SignalTimeout = p.SignalTimeout
	}
	cfg.FailSecure = r.FailSecure
	cfg.Breakers = p
	return cfg
}

// Deps are the components the pipeline orchestrates.
type Deps struct {
	DB        *store.Store
	Matcher   SignatureChecker
	Blocklist *blocklist.Blocklist
	Identity  *identity.Correlator
	Ledger    *ledger.Ledger
	Limiter   *ratelimit.Limiter
	Scorer    *risk.Scorer
	Audit     audit.Recorder
}

// Pipeline assesses uploads. It is safe for concurrent use.
type Pipeline struct {
	cfg Config

	db        *store.Store
	signature SignatureChecker
	hashes    HashLookup
	evasion   EvasionDetector
	blocklist *blocklist.Blocklist
	identity  *identity.Correlator
	ledger    *ledger.Ledger
	limiter   *ratelimit.Limiter
	scorer    *risk.Scorer
	audit     audit.Recorder

	breakers map[string]*breaker.Breaker
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.DB == nil || deps.Matcher == nil || deps.Blocklist == nil || deps.Identity == nil ||
		deps.Ledger == nil || deps.Limiter == nil || deps.Scorer == nil {
		return nil, errors.New("pipeline: missing dependency")
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = DefaultConfig().SignalTimeout
	}
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = DefaultConfig().MutationTimeout
	}
	rec := deps.Audit
	if rec == nil {
		rec = audit.Nop{}
	}

	breakers := make(map[string]*breaker.Breaker)
	for _, name := range []string{SignalBlocklist, SignalIdentity, SignalLedger, SignalRateLimit} {
		breakers[name] = breaker.New(breaker.SettingsFromConfig(name, cfg.Breakers))
	}

	return &Pipeline{
		cfg:       cfg,
		db:        deps.DB,
		signature: deps.Matcher,
		hashes:    deps.Blocklist,
		evasion:   deps.Identity,
		blocklist: deps.Blocklist,
		identity:  deps.Identity,
		ledger:    deps.Ledger,
		limiter:   deps.Limiter,
		scorer:    deps.Scorer,
		audit:     rec,
		breakers:  breakers,
		now:       time.Now,
		log:       logging.WithComponent("pipeline"),
	}, nil
}

// Breakers returns the pipeline's circuit breakers by name.
func (p *Pipeline) Breakers() map[string]*breaker.Breaker {
	return p.breakers
}

// Assess validates ev and returns its risk assessment. The only error is a
// *validation.RequestValidationError for a malformed event; every other
// failure is expressed in the assessment.
func (p *Pipeline) Assess(ctx context.Context, ev *models.UploadEvent) (*models.RiskAssessment, error) {
	if verr := validation.ValidateStruct(ev); verr != nil {
		fields := make([]string, 0, len(verr.Errors()))
		for _, fe := range verr.Errors() {
			fields = append(fields, fe.Field())
		}
		p.audit.Log(ctx, audit.NewValidationRejectedEvent(ev.UploaderID, ev.ContentID, fields))
		return nil, verr
	}

	start := time.Now()
	now := p.now().UTC()
	if ev.ContentID == "" {
		ev.ContentID = uuid.NewString()
	} else {
		p.claimContentID(ctx, ev)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.ContentHash = strings.ToLower(ev.ContentHash)

	var (
		strikes []models.UserStrike
		windows []string
	)
	a, standing := p.shortCircuit(ctx, ev, now)
	if a == nil {
		a, windows = p.admit(ctx, ev, standing, now)
	}
	if a == nil {
		a, strikes = p.evaluate(ctx, ev, now)
	}

	a.AssessmentID = uuid.NewString()
	a.ContentID = ev.ContentID

	if a.RateLimited {
		p.screenRefused(ctx, ev, now)
		p.finishRateLimited(ctx, ev, a, windows, time.Since(start))
		return a, nil
	}

	p.enforce(ctx, ev, a, strikes, now)

	types := make([]string, 0, len(a.Violations))
	for i := range a.Violations {
		types = append(types, string(a.Violations[i].Type))
	}
	metrics.RecordAssessment(string(a.Decision), a.RiskScore, types, time.Since(start))
	p.audit.Log(ctx, audit.NewDecisionEvent(ev.UploaderID, a))
	if a.HasViolation(models.ViolationAccountEvasion) {
		p.audit.Log(ctx, audit.NewEvasionSuspectedEvent(ev.UploaderID, ev.ContentID))
	}

	logging.Ctx(ctx).Info().
		Str("component", "pipeline").
		Str("assessment_id", a.AssessmentID).
		Str("content_id", a.ContentID).
		Str("user_id", logging.RedactUserID(ev.UploaderID)).
		Str("decision", string(a.Decision)).
		Int("risk_score", a.RiskScore).
		Strs("violations", types).
		Dur("duration", time.Since(start)).
		Msg("upload assessed")
	return a, nil
}

// shortCircuit checks the uploader's bans and linked devices. A non-nil
// assessment ends the pipeline.
func (p *Pipeline) shortCircuit(ctx context.Context, ev *models.UploadEvent, now time.Time) (*models.RiskAssessment, models.UserStanding) {
	standing, err := bounded(ctx, p.cfg.SignalTimeout, SignalLedger, p.breakers[SignalLedger],
		func(c context.Context) (*models.UserStanding, error) {
			return p.ledger.Standing(c, ev.UploaderID)
		})
	if err != nil {
		if v := p.signalFailed(ctx, SignalLedger, err); v != nil {
			return p.single(*v, now), models.UserStanding{}
		}
		standing = &models.UserStanding{UserID: ev.UploaderID}
	}
	if standing.ActiveBan != nil {
		return p.single(risk.UserBanned(standing.ActiveBan), now), *standing
	}

	device, err := bounded(ctx, p.cfg.SignalTimeout, SignalIdentity, p.breakers[SignalIdentity],
		func(c context.Context) (*models.Violation, error) {
			return p.identity.CheckBannedDevice(c, ev.UploaderID, ev.Request)
		})
	if err != nil {
		if v := p.signalFailed(ctx, SignalIdentity, err); v != nil {
			return p.single(*v, now), *standing
		}
		device = nil
	}
	if device != nil {
		return p.single(*device, now), *standing
	}
	return nil, *standing
}

// admit consults the rate limiter. A non-nil assessment ends the pipeline;
// for a refusal the violated windows are returned with it.
func (p *Pipeline) admit(ctx context.Context, ev *models.UploadEvent, standing models.UserStanding, now time.Time) (*models.RiskAssessment, []string) {
	large := p.limiter.IsLargeVideo(ev.MimeType, ev.SizeBytes)
	dec, err := bounded(ctx, p.cfg.SignalTimeout, SignalRateLimit, p.breakers[SignalRateLimit],
		func(c context.Context) (ratelimit.Decision, error) {
			return p.limiter.Admit(c, ev.UploaderID, standing.Restricted, large, now)
		})
	if err != nil {
		if v := p.signalFailed(ctx, SignalRateLimit, err); v != nil {
			return p.single(*v, now), nil
		}
		return nil, nil
	}
	if dec.Allowed {
		return nil, nil
	}
	return &models.RiskAssessment{
		Violations:        []models.Violation{},
		Decision:          models.DecisionBlock,
		EvaluatedAt:       now,
		RateLimited:       true,
		RetryAfter:        dec.RetryAfter,
		RetryAfterSeconds: int(math.Ceil(dec.RetryAfter.Seconds())),
	}, dec.Windows
}
