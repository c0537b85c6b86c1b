// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "this-is-a-test-secret-of-at-least-32-chars"

func newTestManager(t *testing.T) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return m
}

func TestNewJWTManager_ShortSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewJWTManager("short", time.Hour); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestJWTManager_RoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	token, err := m.GenerateToken("rev-1", []string{RoleReviewer})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "rev-1" || len(claims.Roles) != 1 || claims.Roles[0] != RoleReviewer {
		t.Errorf("claims = %+v", claims)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	good, _ := m.GenerateToken("rev-1", nil)

	expired := newTestManager(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.GenerateToken("rev-1", nil)

	other, _ := NewJWTManager(strings.Repeat("x", 40), time.Hour)
	foreign, _ := other.GenerateToken("rev-1", nil)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "rev-1", Issuer: Issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", old},
		{"wrong secret", foreign},
		{"alg none", none},
		{"tampered", good[:len(good)-2] + "xx"},
		{"garbage", "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.ValidateToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	token, _ := m.GenerateToken("admin-1", []string{RoleAdmin})

	var seen *Subject
	h := m.Authenticate(func(w http.ResponseWriter, status int, code, _ string) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(code))
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/appeals", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
				return
			}
			if !seen.HasRole(RoleAdmin) || seen.ID != "admin-1" {
				t.Errorf("subject = %+v", seen)
			}
		})
	}
}
