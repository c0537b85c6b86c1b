// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package store persists moderation state in BadgerDB.
//
// Every entity is a JSON value under a prefixed key, with secondary index keys
// whose values are empty. Writes go through Update, which runs the callback in
// an optimistic read-write transaction and retries the whole callback when
// Badger reports a conflict at commit. When retries run out the caller gets
// ErrConcurrencyConflict.
//
// Key layout:
//
//	hash:<hash>                              BlockedHash
//	hash_content:<contentID>                 -> hash
//	content:<contentID>                      ContentRecord
//	strike:<userID>|<time>|<strikeID>        UserStrike
//	strike_content:<contentID>|<strikeID>    -> strike key
//	ban:<userID>|<time>|<banID>              Ban
//	attempt:<userID>|<time>|<attemptID>      AttemptRecord
//	attempt_content:<contentID>|<attemptID>  -> attempt key
//	device:<userID>|<fingerprint>            DeviceRecord
//	device_fp:<fingerprint>|<userID>
//	device_ip:<ip>|<userID>|<fingerprint>
//	appeal:<appealID>                        Appeal
//	appeal_status:<status>|<appealID>
//	appeal_pending:<contentID>               -> appealID
//	rl:<userID>|<window>                     []int64 admission times (TTL)
//
// "|" stands for a NUL byte. <time> is zero-padded Unix nanoseconds, so
// per-user scans return records in chronological order. Appeal ids are
// UUIDv7 for the same reason.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
)

var (
	// ErrNotFound is returned when a keyed entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when a transaction still conflicts
	// after the configured number of retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Options configures Open.
type Options struct {
	Path       string
	InMemory   bool
	SyncWrites bool

	// MaxRetries bounds conflict retries per Update.
	MaxRetries int
	// RetryInitialBackoff is the first backoff interval; it doubles per retry.
	RetryInitialBackoff time.Duration
}

// DefaultOptions returns options for a persistent store at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:                path,
		SyncWrites:          true,
		MaxRetries:          5,
		RetryInitialBackoff: 10 * time.Millisecond,
	}
}

// Store wraps a Badger database.
type Store struct {
	db   *badger.DB
	opts Options
}

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites && !opts.InMemory
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInitialBackoff <= 0 {
		opts.RetryInitialBackoff = 10 * time.Millisecond
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", bopts.SyncWrites).
		Msg("store opened")

	return &Store{db: db, opts: opts}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	opts := DefaultOptions("")
	opts.InMemory = true
	opts.RetryInitialBackoff = time.Millisecond
	return Open(opts)
}

// DB exposes the underlying database for maintenance tasks.
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Update runs fn in a read-write transaction and commits it. fn may run more
// than once, so it must not have side effects outside the transaction.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if s.db.IsClosed() {
		return ErrClosed
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.RetryInitialBackoff
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.opts.MaxRetries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&Tx{txn: txn})
		})
		if errors.Is(err, badger.ErrConflict) {
			metrics.RecordStoreConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, policy)

	if errors.Is(err, badger.ErrConflict) {
		logging.Ctx(ctx).Warn().Int("attempts", attempt).Msg("transaction conflict retries exhausted")
		return fmt.Errorf("%w after %d attempts", ErrConcurrencyConflict, attempt)
	}
	return err
}

// Tx is a transaction handle passed to View and Update callbacks.
type Tx struct {
	txn *badger.Txn
}

func (tx *Tx) getJSON(key string, v any) error {
	item, err := tx.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", keyKind(key), err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func (tx *Tx) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", keyKind(key), err)
	}
	if err := tx.txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", keyKind(key), err)
	}
	return nil
}

func (tx *Tx) setJSONWithTTL(key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", keyKind(key), err)
	}
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := tx.txn.SetEntry(e); err != nil {
		return fmt.Errorf("set %s: %w", keyKind(key), err)
	}
	return nil
}

func (tx *Tx) getString(key string) (string, error) {
	item, err := tx.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", keyKind(key), err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (tx *Tx) set(key, value string) error {
	if err := tx.txn.Set([]byte(key), []byte(value)); err != nil {
		return fmt.Errorf("set %s: %w", keyKind(key), err)
	}
	return nil
}

func (tx *Tx) delete(key string) error {
	if err := tx.txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", keyKind(key), err)
	}
	return nil
}

func (tx *Tx) exists(key string) (bool, error) {
	_, err := tx.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanKeys calls fn with the suffix of every key under prefix.
func (tx *Tx) scanKeys(prefix string, fn func(suffix string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := fn(string(it.Item().Key()[len(p):])); err != nil {
			return err
		}
	}
	return nil
}

// scanJSON decodes every value under prefix and calls fn with it.
func scanJSON[T any](tx *Tx, prefix string, fn func(v *T) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", keyKind(prefix), err)
		}
		if err := fn(&v); err != nil {
			return err
		}
	}
	return nil
}
