// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/warden/internal/models"
)

// timeKey renders t so that lexical key order is chronological.
func timeKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

// PutStrike writes s and its content index.
func (tx *Tx) PutStrike(s *models.UserStrike) error {
	key := join(prefixStrike, s.UserID, timeKey(s.StrikeDate), s.ID)
	if err := tx.setJSON(key, s); err != nil {
		return err
	}
	return tx.set(join(prefixStrikeContent, s.ContentID, s.ID), key)
}

// Strikes returns the user's full strike history, oldest first.
func (tx *Tx) Strikes(userID string) ([]models.UserStrike, error) {
	var out []models.UserStrike
	err := scanJSON(tx, under(prefixStrike, userID), func(s *models.UserStrike) error {
		out = append(out, *s)
		return nil
	})
	return out, err
}

// MarkStrikesFalsePositive flags every strike recorded for contentID and
// returns how many changed.
func (tx *Tx) MarkStrikesFalsePositive(contentID string) (int, error) {
	return markFalsePositive(tx, under(prefixStrikeContent, contentID), func(s *models.UserStrike) bool {
		if s.FalsePositive {
			return false
		}
		s.FalsePositive = true
		return true
	})
}

// PutBan writes b. Rewriting an existing ban (to lift it) keeps its key.
func (tx *Tx) PutBan(b *models.Ban) error {
	return tx.setJSON(join(prefixBan, b.UserID, timeKey(b.CreatedAt), b.ID), b)
}

// Bans returns every ban ever recorded for the user, oldest first.
func (tx *Tx) Bans(userID string) ([]models.Ban, error) {
	var out []models.Ban
	err := scanJSON(tx, under(prefixBan, userID), func(b *models.Ban) error {
		out = append(out, *b)
		return nil
	})
	return out, err
}

// PutAttempt writes a and its content index.
func (tx *Tx) PutAttempt(a *models.AttemptRecord) error {
	key := join(prefixAttempt, a.UserID, timeKey(a.CreatedAt), a.ID)
	if err := tx.setJSON(key, a); err != nil {
		return err
	}
	if a.ContentID == "" {
		return nil
	}
	return tx.set(join(prefixAttemptContent, a.ContentID, a.ID), key)
}

// AttemptsSince returns the user's attempts created at or after since,
// newest first. The scan walks backwards and stops at the first older entry.
func (tx *Tx) AttemptsSince(userID string, since time.Time) ([]models.AttemptRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(under(prefixAttempt, userID))
	floor := string(prefix) + timeKey(since)
	var out []models.AttemptRecord
	for it.Seek(append(append([]byte{}, prefix...), 0xff)); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if string(item.Key()) < floor {
			break
		}
		var a models.AttemptRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		}); err != nil {
			return nil, fmt.Errorf("decode attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Attempts returns the user's attempts, oldest first.
func (tx *Tx) Attempts(userID string) ([]models.AttemptRecord, error) {
	var out []models.AttemptRecord
	err := scanJSON(tx, under(prefixAttempt, userID), func(a *models.AttemptRecord) error {
		out = append(out, *a)
		return nil
	})
	return out, err
}

// MarkAttemptsFalsePositive flags every attempt recorded for contentID and
// returns how many changed.
func (tx *Tx) MarkAttemptsFalsePositive(contentID string) (int, error) {
	return markFalsePositive(tx, under(prefixAttemptContent, contentID), func(a *models.AttemptRecord) bool {
		if a.FalsePositive {
			return false
		}
		a.FalsePositive = true
		return true
	})
}

// markFalsePositive follows every index entry under indexPrefix to its primary
// key, applies mark, and writes back the records mark reports as changed.
func markFalsePositive[T any](tx *Tx, indexPrefix string, mark func(*T) bool) (int, error) {
	var keys []string
	err := tx.scanKeys(indexPrefix, func(suffix string) error {
		key, err := tx.getString(indexPrefix + suffix)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, key := range keys {
		var v T
		if err := tx.getJSON(key, &v); err != nil {
			return changed, err
		}
		if !mark(&v) {
			continue
		}
		if err := tx.setJSON(key, &v); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}
