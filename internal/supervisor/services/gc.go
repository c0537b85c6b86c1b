// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package services

import (
	"context"
	"time"

	"github.com/tomtom215/warden/internal/logging"
)

// GarbageCollector is satisfied by *store.Store.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// StoreGCService runs value log GC on a fixed interval. A failed pass is
// logged and retried on the next tick.
type StoreGCService struct {
	store        GarbageCollector
	interval     time.Duration
	discardRatio float64
}

// NewStoreGCService returns a GC loop. Defaults are 5m and 0.5.
func NewStoreGCService(store GarbageCollector, interval time.Duration, discardRatio float64) *StoreGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = 0.5
	}
	return &StoreGCService{store: store, interval: interval, discardRatio: discardRatio}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(s.discardRatio); err != nil {
				logging.Warn().Err(err).Str("component", "store-gc").Msg("value log GC failed")
			}
		}
	}
}

func (s *StoreGCService) String() string {
	return "store-gc"
}
