// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/warden/internal/models"
)

// createTestStore opens an in-memory store closed at test cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// conflictingWrite writes key outside tx so that tx's read of key conflicts
// at commit.
func conflictingWrite(t *testing.T, s *Store, key string) {
	t.Helper()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(time.Now().String()))
	})
	if err != nil {
		t.Fatalf("conflicting write: %v", err)
	}
}

func TestUpdate_RetriesConflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	attempts := 0
	err := s.Update(ctx, func(tx *Tx) error {
		attempts++
		if _, err := tx.getString("counter"); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if attempts == 1 {
			conflictingWrite(t, s, "counter")
		}
		return tx.set("counter", "mine")
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}

	var got string
	_ = s.View(ctx, func(tx *Tx) error {
		got, _ = tx.getString("counter")
		return nil
	})
	if got != "mine" {
		t.Errorf("counter = %q, want mine", got)
	}
}

func TestUpdate_ConflictExhausted(t *testing.T) {
	s := createTestStore(t)
	s.opts.MaxRetries = 2

	attempts := 0
	err := s.Update(context.Background(), func(tx *Tx) error {
		attempts++
		if _, err := tx.getString("counter"); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		conflictingWrite(t, s, "counter")
		return tx.set("counter", "mine")
	})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("Update() error = %v, want ErrConcurrencyConflict", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}
}

func TestUpdate_NonConflictErrorNotRetried(t *testing.T) {
	s := createTestStore(t)
	boom := errors.New("boom")

	attempts := 0
	err := s.Update(context.Background(), func(*Tx) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want boom", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestUpdate_CanceledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(*Tx) error {
		t.Error("callback should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Update() error = %v, want context.Canceled", err)
	}
}

func TestBlockedHash_FirstWriterWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	put := func(contentID string, at time.Time) bool {
		var inserted bool
		err := s.Update(ctx, func(tx *Tx) error {
			var err error
			inserted, err = tx.PutBlockedHashIfAbsent(&models.BlockedHash{
				ContentHash: "abc", ContentID: contentID, FirstBlockedAt: at,
			})
			return err
		})
		if err != nil {
			t.Fatalf("PutBlockedHashIfAbsent() error = %v", err)
		}
		return inserted
	}

	if !put("c1", first) {
		t.Fatal("first insert should succeed")
	}
	if put("c2", first.Add(time.Hour)) {
		t.Fatal("second insert should be a no-op")
	}

	_ = s.View(ctx, func(tx *Tx) error {
		bh, err := tx.BlockedHash("abc")
		if err != nil {
			t.Fatalf("BlockedHash() error = %v", err)
		}
		if !bh.FirstBlockedAt.Equal(first) || bh.ContentID != "c1" {
			t.Errorf("entry overwritten: %+v", bh)
		}
		return nil
	})

	// Removing for a content id that does not own the hash is a no-op.
	_ = s.Update(ctx, func(tx *Tx) error {
		removed, err := tx.DeleteBlockedHashForContent("c2")
		if err != nil || removed != "" {
			t.Errorf("DeleteBlockedHashForContent(c2) = %q, %v", removed, err)
		}
		removed, err = tx.DeleteBlockedHashForContent("c1")
		if err != nil || removed != "abc" {
			t.Errorf("DeleteBlockedHashForContent(c1) = %q, %v", removed, err)
		}
		return nil
	})
	_ = s.View(ctx, func(tx *Tx) error {
		if _, err := tx.BlockedHash("abc"); !errors.Is(err, ErrNotFound) {
			t.Errorf("BlockedHash() after delete error = %v", err)
		}
		return nil
	})
}

func TestStrikesAndAttempts_FalsePositive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(tx *Tx) error {
		for i, cid := range []string{"c1", "c2"} {
			at := now.Add(time.Duration(i) * time.Minute)
			if err := tx.PutStrike(&models.UserStrike{ID: cid + "-s", UserID: "u1", ContentID: cid, StrikeDate: at, ExpiresAt: at.Add(90 * 24 * time.Hour)}); err != nil {
				return err
			}
			if err := tx.PutAttempt(&models.AttemptRecord{ID: cid + "-a", UserID: "u1", ContentID: cid, Blocked: true, CreatedAt: at}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_ = s.Update(ctx, func(tx *Tx) error {
		n, err := tx.MarkStrikesFalsePositive("c1")
		if err != nil || n != 1 {
			t.Errorf("MarkStrikesFalsePositive() = %d, %v", n, err)
		}
		n, err = tx.MarkAttemptsFalsePositive("c1")
		if err != nil || n != 1 {
			t.Errorf("MarkAttemptsFalsePositive() = %d, %v", n, err)
		}
		return nil
	})

	_ = s.View(ctx, func(tx *Tx) error {
		strikes, _ := tx.Strikes("u1")
		if len(strikes) != 2 || !strikes[0].FalsePositive || strikes[1].FalsePositive {
			t.Errorf("strikes = %+v", strikes)
		}
		if got := models.CountActiveStrikes(strikes, now.Add(time.Hour)); got != 1 {
			t.Errorf("active strikes = %d, want 1", got)
		}

		recent, _ := tx.AttemptsSince("u1", now.Add(30*time.Second))
		if len(recent) != 1 || recent[0].ContentID != "c2" {
			t.Errorf("AttemptsSince() = %+v", recent)
		}
		all, _ := tx.Attempts("u1")
		if len(all) != 2 || !all[0].FalsePositive {
			t.Errorf("Attempts() = %+v", all)
		}
		return nil
	})
}

func TestDevices_Indexes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	upsert := func(user, fp, ip string, at time.Time) {
		t.Helper()
		if err := s.Update(ctx, func(tx *Tx) error {
			return tx.UpsertDevice(&models.DeviceRecord{UserID: user, Fingerprint: fp, IPAddress: ip, LastSeen: at})
		}); err != nil {
			t.Fatalf("UpsertDevice() error = %v", err)
		}
	}

	upsert("u1", "fp1", "2001:db8::1", t0)
	upsert("u2", "fp1", "10.0.0.2", t0)
	upsert("u1", "fp1", "10.0.0.9", t0.Add(time.Hour))

	_ = s.View(ctx, func(tx *Tx) error {
		users, _ := tx.UsersByFingerprint("fp1")
		if len(users) != 2 {
			t.Errorf("UsersByFingerprint() = %v", users)
		}
		if users, _ := tx.UsersByIP("2001:db8::1"); len(users) != 0 {
			t.Errorf("old IP should be unindexed, got %v", users)
		}
		if users, _ := tx.UsersByIP("10.0.0.9"); len(users) != 1 || users[0] != "u1" {
			t.Errorf("UsersByIP() = %v", users)
		}
		d, err := tx.Device("u1", "fp1")
		if err != nil {
			t.Fatalf("Device() error = %v", err)
		}
		if !d.FirstSeen.Equal(t0) || !d.LastSeen.Equal(t0.Add(time.Hour)) {
			t.Errorf("device times = %v / %v", d.FirstSeen, d.LastSeen)
		}
		return nil
	})
}

func TestAppeals_StatusIndexes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a := &models.Appeal{ID: "a1", UserID: "u1", BlockedContentID: "c1", Status: models.AppealPending}
	if err := s.Update(ctx, func(tx *Tx) error { return tx.PutAppeal(a, "") }); err != nil {
		t.Fatalf("PutAppeal() error = %v", err)
	}

	_ = s.View(ctx, func(tx *Tx) error {
		if id, _ := tx.PendingAppealFor("c1"); id != "a1" {
			t.Errorf("PendingAppealFor() = %q", id)
		}
		pending, _ := tx.AppealsByStatus(models.AppealPending, 10)
		if len(pending) != 1 {
			t.Errorf("pending = %v", pending)
		}
		return nil
	})

	a.Status = models.AppealDenied
	if err := s.Update(ctx, func(tx *Tx) error { return tx.PutAppeal(a, models.AppealPending) }); err != nil {
		t.Fatalf("PutAppeal() error = %v", err)
	}

	_ = s.View(ctx, func(tx *Tx) error {
		if id, _ := tx.PendingAppealFor("c1"); id != "" {
			t.Errorf("PendingAppealFor() after resolve = %q", id)
		}
		if pending, _ := tx.AppealsByStatus(models.AppealPending, 0); len(pending) != 0 {
			t.Errorf("pending after resolve = %v", pending)
		}
		if denied, _ := tx.AppealsByStatus(models.AppealDenied, 0); len(denied) != 1 {
			t.Errorf("denied = %v", denied)
		}
		return nil
	})
}

func TestRateWindow_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_ = s.Update(ctx, func(tx *Tx) error {
		return tx.PutRateWindow("u1", "standard", []int64{1, 2, 3}, time.Hour)
	})
	_ = s.View(ctx, func(tx *Tx) error {
		log, err := tx.RateWindow("u1", "standard")
		if err != nil || len(log) != 3 {
			t.Errorf("RateWindow() = %v, %v", log, err)
		}
		empty, err := tx.RateWindow("u2", "standard")
		if err != nil || len(empty) != 0 {
			t.Errorf("RateWindow(missing) = %v, %v", empty, err)
		}
		return nil
	})
}

func TestClosedStore(t *testing.T) {
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	_ = s.Close()

	if err := s.View(context.Background(), func(*Tx) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("View() after close = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
