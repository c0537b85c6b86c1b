// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/warden/internal/breaker"
	"github.com/tomtom215/warden/internal/metrics"
)

// Signal names, used as breaker names, metric labels and in CHECK_ERROR
// messages.
const (
	SignalSignature = "signature"
	SignalBlocklist = "blocklist"
	SignalIdentity  = "identity"
	SignalLedger    = "ledger"
	SignalRateLimit = "ratelimit"
)

// ErrSignalTimeout is returned when a signal does not answer in time.
var ErrSignalTimeout = errors.New("signal timed out")

// bounded runs fn under timeout and, when b is set, through the breaker. It
// returns at the deadline even if fn ignores its context; fn's late result is
// discarded.
func bounded[T any](ctx context.Context, timeout time.Duration, name string, b *breaker.Breaker, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		call := func() (T, error) { return fn(sctx) }
		var r result
		if b != nil {
			r.v, r.err = breaker.Execute(b, call)
		} else {
			r.v, r.err = call()
		}
		done <- r
	}()

	var r result
	select {
	case r = <-done:
	case <-sctx.Done():
		r.err = fmt.Errorf("%s: %w", name, ErrSignalTimeout)
		if ctx.Err() != nil {
			r.err = fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	metrics.RecordSignal(name, time.Since(start), failureReason(r.err))
	return r.v, r.err
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSignalTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case breaker.IsRejected(err):
		return "circuit_open"
	default:
		return "error"
	}
}
