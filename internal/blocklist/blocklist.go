// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package blocklist records the content hashes of blocked uploads so that an
// exact re-upload is caught without running any other check.
//
// Lookups go through an in-memory Bloom filter first. A negative answer is
// definite and never touches Badger; a positive answer is confirmed against
// the store. The filter only grows: hashes removed by an approved appeal stay
// in it and fall through to a store miss.
//
// Matching is on the exact hash only. Re-encoded or trimmed copies of blocked
// content produce a different hash and are not caught here.
package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/cache"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/store"
)

// Filter sizing for a fresh process.
const (
	DefaultExpectedHashes    = 1_000_000
	DefaultFalsePositiveRate = 0.001
)

// Blocklist is the content fingerprint store.
type Blocklist struct {
	db     *store.Store
	filter *cache.BloomFilter
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a Blocklist over db with an empty filter. Call Warm before
// serving lookups against an existing database.
func New(db *store.Store) *Blocklist {
	return &Blocklist{
		db:     db,
		filter: cache.NewBloomFilter(DefaultExpectedHashes, DefaultFalsePositiveRate),
		now:    time.Now,
		log:    logging.WithComponent("blocklist"),
	}
}

// Warm loads every stored hash into the filter and returns how many it saw.
func (b *Blocklist) Warm(ctx context.Context) (int, error) {
	n := 0
	err := b.db.View(ctx, func(tx *store.Tx) error {
		return tx.ForEachBlockedHash(func(hash string) error {
			b.filter.Add(hash)
			n++
			return nil
		})
	})
	if err != nil {
		return n, fmt.Errorf("warm blocklist: %w", err)
	}
	b.log.Info().Int("hashes", n).Float64("fill_ratio", b.filter.FillRatio()).Msg("blocklist filter warmed")
	return n, nil
}

// CheckHash reports whether hash is blocked and returns its entry.
func (b *Blocklist) CheckHash(ctx context.Context, hash string) (*models.BlockedHash, bool, error) {
	hash = normalizeHash(hash)
	if !b.filter.Test(hash) {
		metrics.RecordBlocklistLookup("bloom_negative")
		return nil, false, nil
	}

	var entry *models.BlockedHash
	err := b.db.View(ctx, func(tx *store.Tx) error {
		var err error
		entry, err = tx.BlockedHash(hash)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		metrics.RecordBlocklistLookup("store_miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("check hash: %w", err)
	}
	metrics.RecordBlocklistLookup("hit")
	return entry, true, nil
}

// BlockHash inserts hash unless it is already blocked. The first writer's
// entry is kept. It reports whether this call inserted.
func (b *Blocklist) BlockHash(ctx context.Context, hash, reason, sampleFileName, contentID string) (bool, error) {
	entry := b.Entry(hash, reason, sampleFileName, contentID)
	var inserted bool
	err := b.db.Update(ctx, func(tx *store.Tx) error {
		var err error
		inserted, err = Insert(tx, entry)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("block hash: %w", err)
	}
	b.Committed(entry.ContentHash)
	return inserted, nil
}

// Entry builds a BlockedHash stamped with the current time.
func (b *Blocklist) Entry(hash, reason, sampleFileName, contentID string) *models.BlockedHash {
	return &models.BlockedHash{
		ContentHash:    normalizeHash(hash),
		Reason:         reason,
		FirstBlockedAt: b.now().UTC(),
		SampleFileName: sampleFileName,
		ContentID:      contentID,
	}
}

// Committed adds hash to the filter. Callers that insert through Insert in
// their own transaction call it after the commit succeeds.
func (b *Blocklist) Committed(hash string) {
	b.filter.Add(normalizeHash(hash))
}

// Insert writes entry inside tx with first-writer-wins semantics.
func Insert(tx *store.Tx, entry *models.BlockedHash) (bool, error) {
	return tx.PutBlockedHashIfAbsent(entry)
}

// RemoveHash deletes the hash blocked for contentID inside tx. It is only
// called from the appeal approval transaction. The filter keeps the hash.
func RemoveHash(tx *store.Tx, contentID string) (string, error) {
	return tx.DeleteBlockedHashForContent(contentID)
}

// RemoveMatchedHash deletes hash inside tx regardless of which upload first
// blocked it. It is called when an approved appeal concerns an upload that
// was blocked by a blocklist match.
func RemoveMatchedHash(tx *store.Tx, hash string) (bool, error) {
	return tx.DeleteBlockedHash(normalizeHash(hash))
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Violation describes a match against entry. The hash itself is never put
// in the message.
func Violation(entry *models.BlockedHash) models.Violation {
	msg := "Content matches previously blocked content"
	if entry.Reason != "" {
		msg += ": " + entry.Reason
	}
	return models.Violation{
		Type:             models.ViolationBlockedHash,
		Severity:         models.SeverityCritical,
		Message:          msg,
		Blocked:          true,
		RiskContribution: 100,
		Appealable:       true,
	}
}
