// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package appeals

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []string
	decided   []models.AppealStatus
}

func (n *recordingNotifier) AppealSubmitted(_ context.Context, a *models.Appeal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, a.ID)
	return nil
}

func (n *recordingNotifier) AppealDecided(_ context.Context, a *models.Appeal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decided = append(n.decided, a.Status)
	return nil
}

type failingRestorer struct{ calls int }

func (r *failingRestorer) Restore(context.Context, string) error {
	r.calls++
	return errors.New("cdn unavailable")
}

var seededAt = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

// seedBlocked stores a blocked upload c1 by u1 with its strike, attempt and
// blocked hash, as the pipeline would.
func seedBlocked(t *testing.T, db *store.Store) {
	t.Helper()
	err := db.Update(context.Background(), func(tx *store.Tx) error {
		if err := tx.PutContent(&models.ContentRecord{
			ContentID: "c1", UserID: "u1", ContentHash: "deadbeef", FileName: "x.mp4",
			Status: models.ContentBlocked, UpdatedAt: seededAt,
		}); err != nil {
			return err
		}
		if _, err := tx.PutBlockedHashIfAbsent(&models.BlockedHash{ContentHash: "deadbeef", ContentID: "c1", FirstBlockedAt: seededAt}); err != nil {
			return err
		}
		if err := tx.PutStrike(&models.UserStrike{ID: "s1", UserID: "u1", ContentID: "c1", StrikeDate: seededAt, ExpiresAt: seededAt.Add(90 * 24 * time.Hour)}); err != nil {
			return err
		}
		return tx.PutAttempt(&models.AttemptRecord{ID: "a1", UserID: "u1", ContentID: "c1", Blocked: true, CreatedAt: seededAt})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Store, *audit.MemoryStore) {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	seedBlocked(t, db)

	events := audit.NewMemoryStore(100)
	opts = append([]Option{WithRecorder(audit.Direct(events))}, opts...)
	s := New(db, opts...)
	s.now = func() time.Time { return seededAt.Add(time.Hour) }
	return s, db, events
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	s, _, events := newTestService(t, WithNotifier(n))
	ctx := context.Background()

	a, err := s.Submit(ctx, "u1", "c1", "This is my own animation project", map[string]string{"project": "link"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if a.Status != models.AppealPending || a.ID == "" {
		t.Errorf("appeal = %+v", a)
	}
	if len(n.submitted) != 1 {
		t.Errorf("notifier calls = %d", len(n.submitted))
	}
	if events.Len() != 1 {
		t.Errorf("audit events = %d, want 1", events.Len())
	}

	if _, err := s.Submit(ctx, "u1", "c1", "Submitting a second time", nil); !errors.Is(err, ErrAppealAlreadyPending) {
		t.Errorf("duplicate Submit() error = %v, want ErrAppealAlreadyPending", err)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Errorf("ListPending() = %v, %v", pending, err)
	}
}

func TestSubmit_ContentChecks(t *testing.T) {
	t.Parallel()
	s, db, _ := newTestService(t)
	ctx := context.Background()

	_ = db.Update(ctx, func(tx *store.Tx) error {
		return tx.PutContent(&models.ContentRecord{ContentID: "c2", UserID: "u1", Status: models.ContentActive})
	})

	tests := []struct {
		name      string
		userID    string
		contentID string
	}{
		{"unknown content", "u1", "nope"},
		{"someone else's content", "u2", "c1"},
		{"content not blocked", "u1", "c2"},
	}
	for _, tt := range tests {
		if _, err := s.Submit(ctx, tt.userID, tt.contentID, "please review this", nil); !errors.Is(err, ErrContentNotFound) {
			t.Errorf("%s: error = %v, want ErrContentNotFound", tt.name, err)
		}
	}
}

func TestReview_Approve(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	r := &failingRestorer{}
	s, db, _ := newTestService(t, WithNotifier(n), WithRestorer(r))
	ctx := context.Background()

	a, err := s.Submit(ctx, "u1", "c1", "This is my own animation project", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Review(ctx, a.ID, "mod-1", models.AppealApproved, "original work")
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if got.Status != models.AppealApproved || got.Reviewer != "mod-1" || got.ReviewedAt == nil {
		t.Errorf("reviewed appeal = %+v", got)
	}
	if r.calls != 1 {
		t.Errorf("restorer calls = %d, want 1 (failure is best-effort)", r.calls)
	}

	_ = db.View(ctx, func(tx *store.Tx) error {
		rec, _ := tx.Content("c1")
		if rec.Status != models.ContentActive {
			t.Errorf("content status = %s", rec.Status)
		}
		if _, err := tx.BlockedHash("deadbeef"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("blocked hash still present: %v", err)
		}
		strikes, _ := tx.Strikes("u1")
		if len(strikes) != 1 || !strikes[0].FalsePositive {
			t.Errorf("strikes = %+v", strikes)
		}
		attempts, _ := tx.Attempts("u1")
		if len(attempts) != 1 || !attempts[0].FalsePositive {
			t.Errorf("attempts = %+v", attempts)
		}
		return nil
	})
	if len(n.decided) != 1 || n.decided[0] != models.AppealApproved {
		t.Errorf("decided notifications = %v", n.decided)
	}
}

func TestReview_DenyKeepsBlock(t *testing.T) {
	t.Parallel()
	s, db, _ := newTestService(t)
	ctx := context.Background()

	a, _ := s.Submit(ctx, "u1", "c1", "This is my own animation project", nil)
	if _, err := s.Review(ctx, a.ID, "mod-1", models.AppealDenied, "matches release"); err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	_ = db.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.BlockedHash("deadbeef"); err != nil {
			t.Errorf("blocked hash removed on deny: %v", err)
		}
		strikes, _ := tx.Strikes("u1")
		if strikes[0].FalsePositive {
			t.Error("strike overturned on deny")
		}
		return nil
	})
}

func TestReview_AlreadyResolved(t *testing.T) {
	t.Parallel()
	n := &recordingNotifier{}
	s, _, _ := newTestService(t, WithNotifier(n))
	ctx := context.Background()

	a, _ := s.Submit(ctx, "u1", "c1", "This is my own animation project", nil)
	if _, err := s.Review(ctx, a.ID, "mod-1", models.AppealDenied, ""); err != nil {
		t.Fatal(err)
	}

	got, err := s.Review(ctx, a.ID, "mod-2", models.AppealApproved, "")
	if !errors.Is(err, ErrAppealAlreadyResolved) {
		t.Fatalf("second Review() error = %v", err)
	}
	if got == nil || got.Status != models.AppealDenied || got.Reviewer != "mod-1" {
		t.Errorf("stored appeal = %+v", got)
	}
	if len(n.decided) != 1 {
		t.Errorf("side effects re-applied: %d notifications", len(n.decided))
	}

	// A resolved appeal frees the content for a new one.
	if _, err := s.Submit(ctx, "u1", "c1", "New evidence attached now", nil); err != nil {
		t.Errorf("resubmit after resolution error = %v", err)
	}
}

func TestReview_Errors(t *testing.T) {
	t.Parallel()
	s, _, events := newTestService(t)
	ctx := context.Background()

	if _, err := s.Review(ctx, "missing", "mod", models.AppealApproved, ""); !errors.Is(err, ErrAppealNotFound) {
		t.Errorf("Review(missing) error = %v", err)
	}
	if _, err := s.Review(ctx, "missing", "mod", models.AppealPending, ""); !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("Review(PENDING) error = %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrAppealNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}

	assertRejections(t, events, "APPEAL_NOT_FOUND", "VALIDATION_ERROR")
}

// assertRejections checks the appeal.rejected events carry codes, in order.
func assertRejections(t *testing.T, events *audit.MemoryStore, codes ...string) {
	t.Helper()
	got, err := events.Query(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeAppealRejected}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != len(codes) {
		t.Fatalf("rejection events = %d, want %d", len(got), len(codes))
	}
	// Query returns newest first.
	for i, code := range codes {
		e := got[len(got)-1-i]
		var meta struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(e.Metadata, &meta); err != nil || meta.Code != code {
			t.Errorf("rejection %d code = %q (%v), want %q", i, meta.Code, err, code)
		}
		if e.Outcome != audit.OutcomeFailure {
			t.Errorf("rejection %d outcome = %s", i, e.Outcome)
		}
	}
}

func TestRejectionsAudited(t *testing.T) {
	t.Parallel()
	s, _, events := newTestService(t)
	ctx := context.Background()

	a, err := s.Submit(ctx, "u1", "c1", "This is my own animation project", nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Submit(ctx, "u1", "c1", "Submitting a second time", nil)
	_, _ = s.Submit(ctx, "u2", "c1", "Not my content at all", nil)
	if _, err := s.Review(ctx, a.ID, "mod-1", models.AppealDenied, ""); err != nil {
		t.Fatal(err)
	}
	_, _ = s.Review(ctx, a.ID, "mod-2", models.AppealApproved, "")

	assertRejections(t, events, "APPEAL_ALREADY_PENDING", "CONTENT_NOT_FOUND", "APPEAL_ALREADY_RESOLVED")
}

func TestReview_ApproveHashMatchedBlock(t *testing.T) {
	t.Parallel()
	s, db, _ := newTestService(t)
	ctx := context.Background()

	// c9 was blocked because its bytes matched the hash first blocked for c1.
	if err := db.Update(ctx, func(tx *store.Tx) error {
		return tx.PutContent(&models.ContentRecord{
			ContentID: "c9", UserID: "u9", ContentHash: "deadbeef", MatchedHash: "deadbeef",
			Status: models.ContentBlocked, UpdatedAt: seededAt,
		})
	}); err != nil {
		t.Fatal(err)
	}

	a, err := s.Submit(ctx, "u9", "c9", "These are my own holiday videos", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Review(ctx, a.ID, "mod-1", models.AppealApproved, ""); err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	_ = db.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.BlockedHash("deadbeef"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("matched hash still blocked: %v", err)
		}
		rec, _ := tx.Content("c1")
		if rec.Status != models.ContentBlocked {
			t.Errorf("first upload status = %s, want BLOCKED", rec.Status)
		}
		return nil
	})
}

type failingNotifier struct{}

func (failingNotifier) AppealSubmitted(context.Context, *models.Appeal) error {
	return errors.New("queue full")
}

func (failingNotifier) AppealDecided(context.Context, *models.Appeal) error {
	return errors.New("queue full")
}

func TestNotifiers_CallsEveryMember(t *testing.T) {
	t.Parallel()
	first, last := &recordingNotifier{}, &recordingNotifier{}
	s, _, _ := newTestService(t, WithNotifier(Notifiers{first, failingNotifier{}, last}))
	ctx := context.Background()

	a, err := s.Submit(ctx, "u1", "c1", "This is my own animation project", nil)
	if err != nil {
		t.Fatalf("Submit() error = %v, notifier failures must not fail the call", err)
	}
	if _, err := s.Review(ctx, a.ID, "mod-1", models.AppealDenied, ""); err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	for i, n := range []*recordingNotifier{first, last} {
		if len(n.submitted) != 1 || len(n.decided) != 1 {
			t.Errorf("notifier %d saw %d submitted, %d decided", i, len(n.submitted), len(n.decided))
		}
	}
	if err := (Notifiers{failingNotifier{}}).AppealDecided(ctx, a); err == nil {
		t.Error("Notifiers should report member errors")
	}
}
