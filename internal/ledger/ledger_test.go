// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

var testStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		StrikeWindow:    90 * 24 * time.Hour,
		ProbeThreshold:  5,
		ProbeWindow:     time.Hour,
		TempBanDuration: 24 * time.Hour,
	}
}

func newTestLedger(t *testing.T, cfg Config) (*Ledger, *fakeClock, *audit.MemoryStore) {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	events := audit.NewMemoryStore(100)
	l := New(db, cfg, audit.Direct(events))
	clock := &fakeClock{t: testStart}
	l.now = clock.Now
	return l, clock, events
}

func blockedAttempt(userID, contentID string, at time.Time) *models.AttemptRecord {
	return &models.AttemptRecord{
		UserID:    userID,
		ContentID: contentID,
		Blocked:   true,
		Decision:  models.DecisionBlock,
		RiskScore: 100,
		CreatedAt: at,
	}
}

func TestStanding_Transitions(t *testing.T) {
	t.Parallel()
	l, clock, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	st, err := l.Standing(ctx, "u1")
	if err != nil {
		t.Fatalf("Standing() error = %v", err)
	}
	if st.State != models.StateClean || st.Restricted {
		t.Errorf("initial standing = %+v", st)
	}

	if _, err := l.RecordBlock(ctx, "u1", "c1", "blocked hash"); err != nil {
		t.Fatalf("RecordBlock() error = %v", err)
	}
	st, _ = l.Standing(ctx, "u1")
	if st.State != models.StateStriked || st.ActiveStrikes != 1 || !st.Restricted {
		t.Errorf("after strike = %+v", st)
	}

	if _, err := l.TempBan(ctx, "u1", "manual", time.Hour, audit.SystemActor()); err != nil {
		t.Fatalf("TempBan() error = %v", err)
	}
	st, _ = l.Standing(ctx, "u1")
	if st.State != models.StateTempBanned || st.ActiveBan == nil {
		t.Errorf("after temp ban = %+v", st)
	}

	clock.Advance(2 * time.Hour)
	st, _ = l.Standing(ctx, "u1")
	if st.State != models.StateStriked {
		t.Errorf("after temp ban expiry state = %s, want STRIKED", st.State)
	}

	if _, err := l.PermBan(ctx, "u1", "manual", audit.SystemActor()); err != nil {
		t.Fatalf("PermBan() error = %v", err)
	}
	st, _ = l.Standing(ctx, "u1")
	if st.State != models.StatePermBanned {
		t.Errorf("after perm ban state = %s", st.State)
	}

	clock.Advance(91 * 24 * time.Hour)
	st, _ = l.Standing(ctx, "u1")
	if st.State != models.StatePermBanned || st.ActiveStrikes != 0 {
		t.Errorf("perm ban should outlive strikes, got %+v", st)
	}
}

func TestStrikeExpiry(t *testing.T) {
	t.Parallel()
	l, clock, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	if _, err := l.RecordBlock(ctx, "u1", "c1", "r"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(90*24*time.Hour + time.Second)

	st, _ := l.Standing(ctx, "u1")
	if st.State != models.StateClean || st.ActiveStrikes != 0 {
		t.Errorf("standing after expiry = %+v", st)
	}
	history, _ := l.StrikeHistory(ctx, "u1")
	if len(history) != 1 {
		t.Errorf("expired strike should stay in history, got %d", len(history))
	}
}

func TestRecordOutcome_ProbingBanOnSixthBlock(t *testing.T) {
	t.Parallel()
	l, clock, events := newTestLedger(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ban, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now()))
		if err != nil {
			t.Fatalf("RecordOutcome(%d) error = %v", i, err)
		}
		if ban != nil {
			t.Fatalf("attempt %d should not ban", i+1)
		}
		clock.Advance(time.Minute)
	}

	ban, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now()))
	if err != nil {
		t.Fatalf("RecordOutcome(6) error = %v", err)
	}
	if ban == nil || ban.BanType != models.BanTemporary {
		t.Fatalf("sixth blocked attempt ban = %+v", ban)
	}
	if want := clock.Now().Add(24 * time.Hour); !ban.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", ban.ExpiresAt, want)
	}

	// A further blocked attempt while banned does not stack a second ban.
	clock.Advance(time.Minute)
	again, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now()))
	if err != nil || again != nil {
		t.Errorf("RecordOutcome while banned = %+v, %v", again, err)
	}

	attempts, _ := l.Attempts(ctx, "u1")
	if len(attempts) != 7 {
		t.Errorf("attempts = %d, want 7", len(attempts))
	}

	bans, _ := events.Query(ctx, audit.QueryFilter{Types: []audit.EventType{audit.EventTypeBan}})
	if len(bans) != 1 {
		t.Errorf("ban audit events = %d, want 1", len(bans))
	}
}

func TestRecordOutcome_IgnoresOldAndAllowedAttempts(t *testing.T) {
	t.Parallel()
	l, clock, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	// Five blocked attempts, then the window passes.
	for i := 0; i < 5; i++ {
		if _, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now())); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(2 * time.Hour)

	allowed := &models.AttemptRecord{UserID: "u1", ContentID: "ok", Decision: models.DecisionAllow, CreatedAt: clock.Now()}
	for i := 0; i < 10; i++ {
		if ban, err := l.RecordOutcome(ctx, allowed); err != nil || ban != nil {
			t.Fatalf("allowed attempt = %+v, %v", ban, err)
		}
		allowed.ID = ""
	}

	ban, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now()))
	if err != nil || ban != nil {
		t.Errorf("blocked attempt outside window = %+v, %v", ban, err)
	}
}

func TestDetectProbing_ConcurrentSingleBan(t *testing.T) {
	t.Parallel()
	l, clock, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now())); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ban, err := l.RecordOutcome(ctx, blockedAttempt("u1", "c", clock.Now()))
			if err != nil {
				t.Errorf("RecordOutcome() error = %v", err)
				return
			}
			if ban != nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("bans applied = %d, want 1", applied)
	}
	if l.locks.size() != 0 {
		t.Errorf("lock map not drained: %d", l.locks.size())
	}
}

func TestTempBan_Escalation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.PermBanAfterTempBans = 3
	l, clock, _ := newTestLedger(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ban, err := l.TempBan(ctx, "u1", "r", time.Hour, audit.SystemActor())
		if err != nil {
			t.Fatal(err)
		}
		if ban.BanType != models.BanTemporary {
			t.Fatalf("ban %d escalated early", i+1)
		}
		clock.Advance(2 * time.Hour)
	}

	ban, err := l.TempBan(ctx, "u1", "r", time.Hour, audit.SystemActor())
	if err != nil {
		t.Fatal(err)
	}
	if ban.BanType != models.BanPermanent {
		t.Errorf("third temp ban returned %s, want PERMANENT", ban.BanType)
	}
	clock.Advance(2 * time.Hour)
	st, _ := l.Standing(ctx, "u1")
	if st.State != models.StatePermBanned {
		t.Errorf("state = %s, want PERM_BANNED", st.State)
	}
}

func TestTempBan_InvalidDuration(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLedger(t, testConfig())

	for _, d := range []time.Duration{0, -time.Hour} {
		if _, err := l.TempBan(context.Background(), "u1", "r", d, audit.SystemActor()); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("TempBan(%v) error = %v", d, err)
		}
	}
}

func TestLiftBan(t *testing.T) {
	t.Parallel()
	l, _, events := newTestLedger(t, testConfig())
	ctx := context.Background()
	reviewer := audit.Actor{ID: "mod-1", Type: audit.ActorReviewer}

	if _, err := l.LiftBan(ctx, "u1", reviewer); !errors.Is(err, ErrNoActiveBan) {
		t.Fatalf("LiftBan() with no ban error = %v", err)
	}

	if _, err := l.TempBan(ctx, "u1", "r", time.Hour, reviewer); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PermBan(ctx, "u1", "r", reviewer); err != nil {
		t.Fatal(err)
	}

	lifted, err := l.LiftBan(ctx, "u1", reviewer)
	if err != nil {
		t.Fatalf("LiftBan() error = %v", err)
	}
	if lifted.BanType != models.BanPermanent || lifted.LiftedBy != "mod-1" {
		t.Errorf("lifted = %+v", lifted)
	}
	if ban, _ := l.ActiveBan(ctx, "u1"); ban != nil {
		t.Errorf("ActiveBan() after lift = %+v", ban)
	}

	got, _ := events.Query(ctx, audit.QueryFilter{Types: []audit.EventType{audit.EventTypeBanLifted}})
	if len(got) != 1 {
		t.Errorf("ban lifted events = %d, want 1", len(got))
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("u1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if k.size() != 0 {
		t.Errorf("size() = %d, want 0", k.size())
	}
}

func TestRecordBlock_Concurrent(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLedger(t, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.RecordBlock(ctx, "u1", "c", "r"); err != nil {
				t.Errorf("RecordBlock() error = %v", err)
			}
		}()
	}
	wg.Wait()

	history, _ := l.StrikeHistory(ctx, "u1")
	if len(history) != 10 {
		t.Errorf("strikes = %d, want 10", len(history))
	}
}
