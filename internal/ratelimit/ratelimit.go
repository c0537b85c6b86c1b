// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package ratelimit enforces per-user upload budgets.
//
// Each budget is a sliding-window log of admission timestamps kept in Badger.
// Admit reads, prunes and checks every window that applies to an upload in
// one transaction and appends to them only when all of them admit, so a
// rejected upload never consumes budget.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/warden/internal/config"
	"github.com/tomtom215/warden/internal/metrics"
	"github.com/tomtom215/warden/internal/store"
)

// Window names, used as store keys and metric labels.
const (
	WindowStandard   = "standard"
	WindowRestricted = "restricted"
	WindowLargeVideo = "large_video"
)

// Window is one budget: at most Limit admissions per Length.
type Window struct {
	Name   string
	Limit  int
	Length time.Duration
}

// Config holds the tier budgets.
type Config struct {
	Enabled         bool
	Standard        Window
	Restricted      Window
	LargeVideo      Window
	LargeVideoBytes int64
}

// DefaultConfig returns the production budgets.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Standard:        Window{Name: WindowStandard, Limit: 10, Length: 15 * time.Minute},
		Restricted:      Window{Name: WindowRestricted, Limit: 3, Length: time.Hour},
		LargeVideo:      Window{Name: WindowLargeVideo, Limit: 5, Length: 30 * time.Minute},
		LargeVideoBytes: 50 << 20,
	}
}

// ConfigFrom maps the ratelimit config section.
func ConfigFrom(c config.RateLimitConfig) Config {
	return Config{
		Enabled:         c.Enabled,
		Standard:        Window{Name: WindowStandard, Limit: c.StandardLimit, Length: c.StandardWindow},
		Restricted:      Window{Name: WindowRestricted, Limit: c.RestrictedLimit, Length: c.RestrictedWindow},
		LargeVideo:      Window{Name: WindowLargeVideo, Limit: c.LargeVideoLimit, Length: c.LargeVideoWindow},
		LargeVideoBytes: c.LargeVideoBytes,
	}
}

// Decision is the result of Admit.
type Decision struct {
	Allowed bool

	// RetryAfter is how long until every violated window has room again.
	RetryAfter time.Duration

	// Windows lists the violated windows on rejection.
	Windows []string
}

// Limiter admits uploads against the configured windows.
type Limiter struct {
	db  *store.Store
	cfg Config
}

// New creates a Limiter.
func New(db *store.Store, cfg Config) *Limiter {
	return &Limiter{db: db, cfg: cfg}
}

// IsLargeVideo reports whether an upload counts against the large video
// window.
func (l *Limiter) IsLargeVideo(mimeType string, sizeBytes int64) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "video/") && sizeBytes >= l.cfg.LargeVideoBytes
}

// windows returns the budgets that apply to one upload.
func (l *Limiter) windows(restricted, largeVideo bool) []Window {
	ws := make([]Window, 0, 2)
	if restricted {
		ws = append(ws, l.cfg.Restricted)
	} else {
		ws = append(ws, l.cfg.Standard)
	}
	if largeVideo {
		ws = append(ws, l.cfg.LargeVideo)
	}
	return ws
}

// Admit checks and records one upload by userID at now.
func (l *Limiter) Admit(ctx context.Context, userID string, restricted, largeVideo bool, now time.Time) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	windows := l.windows(restricted, largeVideo)
	var dec Decision
	err := l.db.Update(ctx, func(tx *store.Tx) error {
		dec = Decision{Allowed: true}
		logs := make([][]int64, len(windows))

		for i, w := range windows {
			log, err := tx.RateWindow(userID, w.Name)
			if err != nil {
				return err
			}
			log = prune(log, now.Add(-w.Length).UnixNano())
			logs[i] = log

			if len(log) < w.Limit {
				continue
			}
			dec.Allowed = false
			dec.Windows = append(dec.Windows, w.Name)
			// The oldest entry leaving the window frees the first slot.
			oldest := time.Unix(0, log[len(log)-w.Limit])
			if wait := oldest.Add(w.Length).Sub(now); wait > dec.RetryAfter {
				dec.RetryAfter = wait
			}
		}
		if !dec.Allowed {
			return nil
		}

		stamp := now.UnixNano()
		for i, w := range windows {
			if err := tx.PutRateWindow(userID, w.Name, append(logs[i], stamp), w.Length); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit admit: %w", err)
	}

	for _, w := range dec.Windows {
		metrics.RecordRateLimitRejection(w)
	}
	return dec, nil
}

// prune drops entries at or before cutoff. log is oldest first.
func prune(log []int64, cutoff int64) []int64 {
	i := 0
	for i < len(log) && log[i] <= cutoff {
		i++
	}
	return log[i:]
}
