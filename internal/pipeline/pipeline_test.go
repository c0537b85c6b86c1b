// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/warden/internal/appeals"
	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/blocklist"
	"github.com/tomtom215/warden/internal/identity"
	"github.com/tomtom215/warden/internal/ledger"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/ratelimit"
	"github.com/tomtom215/warden/internal/risk"
	"github.com/tomtom215/warden/internal/signature"
	"github.com/tomtom215/warden/internal/store"
	"github.com/tomtom215/warden/internal/validation"
)

const (
	episodeSize = 300 << 20
	smallSize   = 2 << 20
)

type fixture struct {
	p       *Pipeline
	db      *store.Store
	ledger  *ledger.Ledger
	appeals *appeals.Service
	events  *audit.MemoryStore
}

func newFixture(t *testing.T, cfg Config, rl ratelimit.Config) *fixture {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	matcher, err := signature.New(signature.Config{})
	if err != nil {
		t.Fatalf("signature.New() error = %v", err)
	}
	events := audit.NewMemoryStore(1000)
	rec := audit.Direct(events)
	ledgerCfg := ledger.Config{
		StrikeWindow:    90 * 24 * time.Hour,
		ProbeThreshold:  5,
		ProbeWindow:     time.Hour,
		TempBanDuration: 24 * time.Hour,
	}
	l := ledger.New(db, ledgerCfg, rec)

	p, err := New(cfg, Deps{
		DB:        db,
		Matcher:   matcher,
		Blocklist: blocklist.New(db),
		Identity:  identity.New(db, ledgerCfg.StrikeWindow),
		Ledger:    l,
		Limiter:   ratelimit.New(db, rl),
		Scorer:    risk.NewScorer(risk.DefaultConfig()),
		Audit:     rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{
		p:       p,
		db:      db,
		ledger:  l,
		appeals: appeals.New(db, appeals.WithRecorder(rec)),
		events:  events,
	}
}

func defaultFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, DefaultConfig(), ratelimit.DefaultConfig())
}

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func upload(user, name string, size int64, content string) *models.UploadEvent {
	return &models.UploadEvent{
		FileName:    name,
		SizeBytes:   size,
		ContentHash: hashOf(content),
		MimeType:    "video/mp4",
		UploaderID:  user,
	}
}

func onDevice(ev *models.UploadEvent, ua, addr string) *models.UploadEvent {
	ev.Request = models.RequestContext{
		RemoteAddr: addr,
		Headers:    http.Header{"User-Agent": {ua}, "Accept-Language": {"en-US"}},
	}
	return ev
}

func mustAssess(t *testing.T, f *fixture, ev *models.UploadEvent) *models.RiskAssessment {
	t.Helper()
	a, err := f.p.Assess(context.Background(), ev)
	if err != nil {
		t.Fatalf("Assess(%q) error = %v", ev.FileName, err)
	}
	return a
}

func standing(t *testing.T, f *fixture, user string) *models.UserStanding {
	t.Helper()
	st, err := f.ledger.Standing(context.Background(), user)
	if err != nil {
		t.Fatalf("Standing() error = %v", err)
	}
	return st
}

func TestAssess_CopyrightedEpisode(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	a := mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", episodeSize, "ep5"))
	if a.Decision != models.DecisionBlock || a.RiskScore != 100 {
		t.Errorf("assessment = %s/%d, want BLOCK/100", a.Decision, a.RiskScore)
	}
	if !a.HasViolation(models.ViolationCopyrightedContent) || !a.HasViolation(models.ViolationSuspiciousSize) {
		t.Errorf("violations = %v", a.ViolationTypes())
	}
	if a.ContentID == "" || a.AssessmentID == "" {
		t.Errorf("ids not assigned: %+v", a)
	}

	if st := standing(t, f, "u1"); st.State != models.StateStriked || st.ActiveStrikes != 1 {
		t.Errorf("standing = %+v", st)
	}
	_ = f.db.View(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.BlockedHash(hashOf("ep5")); err != nil {
			t.Errorf("hash not blocked: %v", err)
		}
		rec, err := tx.Content(a.ContentID)
		if err != nil || rec.Status != models.ContentBlocked {
			t.Errorf("content record = %+v, %v", rec, err)
		}
		return nil
	})

	small := mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "ep5-small"))
	if small.Decision != models.DecisionBlock || small.RiskScore != 100 {
		t.Errorf("small assessment = %s/%d, want BLOCK/100", small.Decision, small.RiskScore)
	}
}

func TestAssess_BenignUploads(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	a := mustAssess(t, f, upload("u1", "My Naruto-inspired OC fanart.png", smallSize, "fanart"))
	if a.Decision != models.DecisionAllow || len(a.Violations) != 0 {
		t.Errorf("fanart = %s %v", a.Decision, a.ViolationTypes())
	}

	a = mustAssess(t, f, upload("u1", "Battle_Scene_1080p_final_cut.mp4", smallSize, "battle"))
	if a.Decision != models.DecisionAllowWithMonitoring || a.RiskScore != 35 {
		t.Errorf("battle scene = %s/%d", a.Decision, a.RiskScore)
	}
	if st := standing(t, f, "u1"); st.State != models.StateClean {
		t.Errorf("standing = %s, want CLEAN", st.State)
	}

	attempts, _ := f.ledger.Attempts(context.Background(), "u1")
	if len(attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(attempts))
	}
	decisions, _ := f.events.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeDecision}})
	if len(decisions) != 2 {
		t.Errorf("decision events = %d, want 2", len(decisions))
	}
}

func TestAssess_RepeatOffender(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()
	for _, c := range []string{"old1", "old2"} {
		if _, err := f.ledger.RecordBlock(ctx, "u1", c, "seed"); err != nil {
			t.Fatal(err)
		}
	}

	a := mustAssess(t, f, upload("u1", "Battle_Scene_1080p_final_cut.mp4", smallSize, "battle"))
	if a.Decision != models.DecisionFlagForReview || a.RiskScore != 55 {
		t.Errorf("assessment = %s/%d, want FLAG_FOR_REVIEW/55", a.Decision, a.RiskScore)
	}

	a = mustAssess(t, f, upload("u1", "holiday.mp4", smallSize, "holiday"))
	if a.Decision != models.DecisionAllow || len(a.Violations) != 0 {
		t.Errorf("clean upload by repeat offender = %s %v", a.Decision, a.ViolationTypes())
	}
}

func TestAssess_AppealOutcomeControlsReupload(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()

	// Approved: the identical bytes are allowed under a clean name.
	approved := mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "approved-bytes"))
	appeal, err := f.appeals.Submit(ctx, "u1", approved.ContentID, "This is my own original animation", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.appeals.Review(ctx, appeal.ID, "mod-1", models.AppealApproved, ""); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	a := mustAssess(t, f, upload("u1", "holiday.mp4", smallSize, "approved-bytes"))
	if a.Decision != models.DecisionAllow {
		t.Errorf("re-upload after approval = %s %v", a.Decision, a.ViolationTypes())
	}
	if st := standing(t, f, "u1"); st.ActiveStrikes != 0 {
		t.Errorf("strike not rolled back: %+v", st)
	}

	// Denied: the hash stays blocked.
	denied := mustAssess(t, f, upload("u2", "One Piece S01E05 1080p.mp4", smallSize, "denied-bytes"))
	appeal, err = f.appeals.Submit(ctx, "u2", denied.ContentID, "This is my own original animation", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.appeals.Review(ctx, appeal.ID, "mod-1", models.AppealDenied, ""); err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	a = mustAssess(t, f, upload("u2", "holiday.mp4", smallSize, "denied-bytes"))
	if a.Decision != models.DecisionBlock || !a.HasViolation(models.ViolationBlockedHash) {
		t.Errorf("re-upload after denial = %s %v", a.Decision, a.ViolationTypes())
	}
}

func TestAssess_ProbingBan(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	// The first strike moves u1 to the restricted budget of 3 per hour, so
	// attempts 5 and 6 are refused by the rate limiter. Their content still
	// screens as blocked and counts toward probing.
	for i := 0; i < 6; i++ {
		a := mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", smallSize, string(rune('a'+i))))
		if a.Decision != models.DecisionBlock {
			t.Fatalf("attempt %d = %s", i+1, a.Decision)
		}
		if a.HasViolation(models.ViolationUserBanned) {
			t.Fatalf("attempt %d already banned", i+1)
		}
		if wantLimited := i >= 4; a.RateLimited != wantLimited {
			t.Fatalf("attempt %d rate limited = %v, want %v", i+1, a.RateLimited, wantLimited)
		}
	}

	st := standing(t, f, "u1")
	if st.State != models.StateTempBanned {
		t.Fatalf("standing after 6 blocks = %s, want TEMP_BANNED", st.State)
	}
	if st.ActiveStrikes != 4 {
		t.Errorf("active strikes = %d, want 4 (refused uploads earn none)", st.ActiveStrikes)
	}

	attempts, _ := f.ledger.Attempts(context.Background(), "u1")
	refused := 0
	for _, at := range attempts {
		if at.RateLimited {
			refused++
		}
	}
	if len(attempts) != 6 || refused != 2 {
		t.Errorf("attempts = %d (%d refused), want 6 (2 refused)", len(attempts), refused)
	}

	a := mustAssess(t, f, upload("u1", "holiday.mp4", smallSize, "clean"))
	if a.Decision != models.DecisionBlock || !a.HasViolation(models.ViolationUserBanned) || len(a.Violations) != 1 {
		t.Errorf("upload while banned = %s %v", a.Decision, a.ViolationTypes())
	}
}

func TestAssess_RefusedCleanUploadsNotCounted(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "ep"))
	for i := 0; i < 8; i++ {
		ev := upload("u1", "photo.png", smallSize, string(rune('a'+i)))
		ev.MimeType = "image/png"
		mustAssess(t, f, ev)
	}

	if st := standing(t, f, "u1"); st.State == models.StateTempBanned {
		t.Errorf("clean refused uploads triggered a ban: %+v", st)
	}
	attempts, _ := f.ledger.Attempts(context.Background(), "u1")
	if len(attempts) != 4 {
		t.Errorf("attempts = %d, want 4 (1 block + 3 admitted photos)", len(attempts))
	}
}

func TestAssess_RateLimited(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	for i := 0; i < 10; i++ {
		ev := upload("u1", "photo.png", smallSize, string(rune('a'+i)))
		ev.MimeType = "image/png"
		if a := mustAssess(t, f, ev); a.RateLimited {
			t.Fatalf("upload %d rate limited", i+1)
		}
	}

	ev := upload("u1", "photo.png", smallSize, "eleventh")
	ev.MimeType = "image/png"
	a := mustAssess(t, f, ev)
	if !a.RateLimited || a.RetryAfter <= 0 || a.RetryAfterSeconds <= 0 {
		t.Fatalf("11th upload = %+v", a)
	}

	attempts, _ := f.ledger.Attempts(context.Background(), "u1")
	if len(attempts) != 10 {
		t.Errorf("attempts = %d, want 10 (rate limited uploads change no state)", len(attempts))
	}
	limited, _ := f.events.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeRateLimited}})
	if len(limited) != 1 {
		t.Errorf("rate limited events = %d, want 1", len(limited))
	}
}

func TestAssess_ApprovedHashMatchUnblocksBytes(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()

	first := mustAssess(t, f, upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "shared-bytes"))
	if first.Decision != models.DecisionBlock {
		t.Fatalf("first upload = %s", first.Decision)
	}
	matched := mustAssess(t, f, upload("u2", "holiday.mp4", smallSize, "shared-bytes"))
	if !matched.HasViolation(models.ViolationBlockedHash) {
		t.Fatalf("re-upload = %s %v, want BLOCKED_HASH", matched.Decision, matched.ViolationTypes())
	}

	appeal, err := f.appeals.Submit(ctx, "u2", matched.ContentID, "These are my own holiday videos", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := f.appeals.Review(ctx, appeal.ID, "mod-1", models.AppealApproved, ""); err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	again := mustAssess(t, f, upload("u2", "holiday.mp4", smallSize, "shared-bytes"))
	if again.Decision != models.DecisionAllow {
		t.Errorf("re-upload after approval = %s %v", again.Decision, again.ViolationTypes())
	}
	_ = f.db.View(ctx, func(tx *store.Tx) error {
		rec, err := tx.Content(first.ContentID)
		if err != nil || rec.Status != models.ContentBlocked {
			t.Errorf("original upload record = %+v, %v", rec, err)
		}
		return nil
	})
}

func TestAssess_ForeignContentIDReplaced(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()

	ev := upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "owned")
	ev.ContentID = "c-shared"
	mustAssess(t, f, ev)

	ev = upload("u2", "One Piece S01E06 1080p.mp4", smallSize, "foreign")
	ev.ContentID = "c-shared"
	a := mustAssess(t, f, ev)
	if a.ContentID == "c-shared" || a.ContentID == "" {
		t.Errorf("content id = %q, want a fresh id", a.ContentID)
	}

	_ = f.db.View(ctx, func(tx *store.Tx) error {
		rec, err := tx.Content("c-shared")
		if err != nil || rec.UserID != "u1" {
			t.Errorf("c-shared = %+v, %v; want owned by u1", rec, err)
		}
		return nil
	})
}

func TestEnforce_RefusesForeignContentRecord(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := f.db.Update(ctx, func(tx *store.Tx) error {
		return tx.PutContent(&models.ContentRecord{ContentID: "c1", UserID: "u1", Status: models.ContentActive})
	}); err != nil {
		t.Fatal(err)
	}

	ev := upload("u2", "One Piece S01E05 1080p.mp4", smallSize, "x")
	ev.ContentID = "c1"
	a := f.p.scorer.Assess([]models.Violation{{
		Type: models.ViolationCopyrightedContent, Severity: models.SeverityCritical, Blocked: true, RiskContribution: 95,
	}}, nil, ev.SizeBytes, now)
	f.p.enforce(ctx, ev, &a, nil, now)

	_ = f.db.View(ctx, func(tx *store.Tx) error {
		rec, err := tx.Content("c1")
		if err != nil || rec.UserID != "u1" || rec.Status != models.ContentActive {
			t.Errorf("c1 = %+v, %v; want untouched", rec, err)
		}
		return nil
	})
}

type slowLookup struct{ delay time.Duration }

func (s slowLookup) CheckHash(context.Context, string) (*models.BlockedHash, bool, error) {
	time.Sleep(s.delay)
	return nil, false, nil
}

type failingLookup struct{}

func (failingLookup) CheckHash(context.Context, string) (*models.BlockedHash, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func TestAssess_FailSecureOnTimeout(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.SignalTimeout = 50 * time.Millisecond
	f := newFixture(t, cfg, ratelimit.DefaultConfig())
	f.p.hashes = slowLookup{delay: time.Second}

	start := time.Now()
	a := mustAssess(t, f, upload("u1", "holiday.mp4", smallSize, "clean"))
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Errorf("Assess() took %v, timeout not enforced", elapsed)
	}
	if a.Decision != models.DecisionBlock || !a.HasViolation(models.ViolationCheckError) {
		t.Errorf("assessment = %s %v", a.Decision, a.ViolationTypes())
	}
	if st := standing(t, f, "u1"); st.State != models.StateClean {
		t.Errorf("check error should not strike, standing = %s", st.State)
	}
}

func TestAssess_FailOpenDropsSignal(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.FailSecure = false
	f := newFixture(t, cfg, ratelimit.DefaultConfig())
	f.p.hashes = failingLookup{}

	before := testutil.ToFloat64(metrics.SignalsDropped.WithLabelValues(SignalBlocklist))
	a := mustAssess(t, f, upload("u1", "holiday.mp4", smallSize, "clean"))
	if a.Decision != models.DecisionAllow {
		t.Errorf("assessment = %s %v", a.Decision, a.ViolationTypes())
	}
	if got := testutil.ToFloat64(metrics.SignalsDropped.WithLabelValues(SignalBlocklist)) - before; got != 1 {
		t.Errorf("dropped signals delta = %v, want 1", got)
	}
}

func TestAssess_BannedDevice(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)
	ctx := context.Background()

	mustAssess(t, f, onDevice(upload("u1", "holiday.mp4", smallSize, "one"), "Shared/1.0", "198.51.100.5:4000"))
	if _, err := f.ledger.PermBan(ctx, "u1", "abuse", audit.SystemActor()); err != nil {
		t.Fatal(err)
	}

	a := mustAssess(t, f, onDevice(upload("u2", "holiday.mp4", smallSize, "two"), "Shared/1.0", "198.51.100.5:4001"))
	if a.Decision != models.DecisionBlock || !a.HasViolation(models.ViolationBannedDevice) {
		t.Errorf("assessment = %s %v", a.Decision, a.ViolationTypes())
	}
	if st := standing(t, f, "u2"); st.ActiveStrikes != 0 {
		t.Errorf("banned device should not strike the new account: %+v", st)
	}

	other := mustAssess(t, f, onDevice(upload("u3", "holiday.mp4", smallSize, "three"), "Other/2.0", "192.0.2.9:4000"))
	if other.Decision != models.DecisionAllow {
		t.Errorf("unrelated device = %s %v", other.Decision, other.ViolationTypes())
	}
}

func TestAssess_AccountEvasionFlags(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	mustAssess(t, f, onDevice(upload("u1", "One Piece S01E05 1080p.mp4", smallSize, "ep"), "Shared/1.0", "198.51.100.5:4000"))
	a := mustAssess(t, f, onDevice(upload("u2", "holiday.mp4", smallSize, "clean"), "Shared/1.0", "198.51.100.5:4001"))

	if a.Decision != models.DecisionFlagForReview || a.RiskScore != 0 {
		t.Errorf("assessment = %s/%d %v", a.Decision, a.RiskScore, a.ViolationTypes())
	}
	if !a.HasViolation(models.ViolationAccountEvasion) {
		t.Errorf("violations = %v", a.ViolationTypes())
	}
	got, _ := f.events.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeEvasionSuspected}})
	if len(got) != 1 {
		t.Errorf("evasion events = %d, want 1", len(got))
	}
}

func TestAssess_ValidationError(t *testing.T) {
	t.Parallel()
	f := defaultFixture(t)

	_, err := f.p.Assess(context.Background(), &models.UploadEvent{FileName: "x.mp4", UploaderID: "u1", ContentHash: "nothex"})
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Assess() error = %v, want RequestValidationError", err)
	}

	got, _ := f.events.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeValidationRejected}})
	if len(got) != 1 {
		t.Fatalf("validation rejected events = %d, want 1", len(got))
	}
	if got[0].Actor.ID != "u1" || got[0].Outcome != audit.OutcomeFailure {
		t.Errorf("event actor = %q outcome = %s", got[0].Actor.ID, got[0].Outcome)
	}
	var meta struct {
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(got[0].Metadata, &meta); err != nil || len(meta.Fields) == 0 {
		t.Errorf("event fields = %v (%v), want the rejected fields", meta.Fields, err)
	}
}
