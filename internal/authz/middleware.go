// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package authz

import (
	"net/http"

	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
)

// Authorize returns middleware that admits the request only when the
// authenticated subject may perform action on object. It must run after
// auth.Authenticate.
func (e *Enforcer) Authorize(object, action string, onError auth.ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := auth.SubjectFromContext(r.Context())
			if subject == nil {
				metrics.RecordAuthzDecision(object, action, "denied")
				onError(w, http.StatusForbidden, "FORBIDDEN", "No authenticated subject")
				return
			}

			allowed, err := e.EnforceWithRoles(subject.ID, subject.Roles, object, action)
			if err != nil {
				metrics.RecordAuthzDecision(object, action, "error")
				logging.Ctx(r.Context()).Error().Err(err).Str("object", object).Msg("authorization error")
				onError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
				return
			}
			if !allowed {
				metrics.RecordAuthzDecision(object, action, "denied")
				logging.Ctx(r.Context()).Info().
					Str("subject", subject.ID).
					Str("object", object).
					Str("action", action).
					Msg("access denied")
				onError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			metrics.RecordAuthzDecision(object, action, "allowed")
			next.ServeHTTP(w, r)
		})
	}
}
