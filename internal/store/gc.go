// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
)

// RunGC rewrites value log files until Badger reports nothing left to
// reclaim at discardRatio. In-memory stores have no value log and return nil.
func (s *Store) RunGC(discardRatio float64) error {
	if s.opts.InMemory {
		return nil
	}
	if s.db.IsClosed() {
		return ErrClosed
	}

	start := time.Now()
	rewrites := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
		rewrites++
	}

	metrics.RecordStoreGC(time.Since(start), rewrites)
	logging.Debug().Int("rewrites", rewrites).Dur("took", time.Since(start)).Msg("value log GC finished")
	return nil
}
