// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"net/http"
	"strconv"

	"github.com/tomtom215/warden/internal/models"
)

// AssessUpload runs the risk pipeline on one upload. The request context in
// the body describes the uploader, not the calling service. A rate-limited
// upload gets 429 with Retry-After and the assessment as the body.
func (rt *Router) AssessUpload(w http.ResponseWriter, r *http.Request) {
	var ev models.UploadEvent
	if !decodeJSON(w, r, &ev) {
		return
	}

	a, err := rt.deps.Assessor.Assess(r.Context(), &ev)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if a.RateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(a.RetryAfterSeconds))
		respondJSON(w, http.StatusTooManyRequests, a)
		return
	}
	respondJSON(w, http.StatusOK, a)
}
