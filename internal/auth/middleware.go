// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/warden/internal/logging"
)

// ErrorWriter renders an error response. The API layer supplies its own so
// that authentication failures share the API error envelope.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// Authenticate requires a valid bearer token and stores the resulting
// Subject in the request context.
func (m *JWTManager) Authenticate(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
				onError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			claims, err := m.ValidateToken(token)
			if err != nil {
				logging.Ctx(r.Context()).Debug().Err(err).Msg("rejected bearer token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden", error="invalid_token"`)
				onError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
				return
			}

			subject := &Subject{ID: claims.Subject, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoCredentials
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.Join(ErrNoCredentials, errors.New("empty bearer token"))
	}
	return token, nil
}
