// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package store

import (
	"errors"
	"time"
)

// RateWindow returns the admission log for (userID, window), oldest first.
// A missing log is empty.
func (tx *Tx) RateWindow(userID, window string) ([]int64, error) {
	var log []int64
	err := tx.getJSON(join(prefixRateWindow, userID, window), &log)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return log, err
}

// PutRateWindow replaces the admission log. Entries expire from Badger after
// ttl, which should be the window length, so idle users leave nothing behind.
func (tx *Tx) PutRateWindow(userID, window string, log []int64, ttl time.Duration) error {
	key := join(prefixRateWindow, userID, window)
	if len(log) == 0 {
		return tx.delete(key)
	}
	return tx.setJSONWithTTL(key, log, ttl)
}
