// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthTimeout bounds each dependency probe.
const healthTimeout = 2 * time.Second

// HealthStatus is the /health body.
type HealthStatus struct {
	Status   string            `json:"status"` // healthy, degraded
	Checks   map[string]string `json:"checks"`
	Breakers map[string]string `json:"breakers,omitempty"`
	Uptime   float64           `json:"uptime_seconds"`
}

// Health probes each registered dependency. Any failing probe makes the
// service degraded and the response 503. Open circuit breakers are reported
// but do not fail the check; the pipeline degrades around them.
func (rt *Router) Health(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]string, len(rt.deps.Checks)),
		Uptime: time.Since(rt.started).Seconds(),
	}

	names := make([]string, 0, len(rt.deps.Checks))
	for name := range rt.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := rt.deps.Checks[name](ctx)
		cancel()
		if err != nil {
			status.Status = "degraded"
			status.Checks[name] = "error"
			continue
		}
		status.Checks[name] = "ok"
	}

	if len(rt.deps.Breakers) > 0 {
		status.Breakers = make(map[string]string, len(rt.deps.Breakers))
		for name, b := range rt.deps.Breakers {
			status.Breakers[name] = b.State()
		}
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}
