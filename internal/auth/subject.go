// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package auth

import (
	"context"
	"slices"
)

// Well-known roles.
const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
	// RoleService is held by the upload platform's backend tokens.
	RoleService = "service"
)

// Subject is the authenticated caller of a request.
type Subject struct {
	ID    string
	Roles []string
}

// HasRole reports whether s carries role.
func (s *Subject) HasRole(role string) bool {
	return s != nil && slices.Contains(s.Roles, role)
}

type subjectKey struct{}

// WithSubject returns ctx carrying s.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, s)
}

// SubjectFromContext returns the authenticated subject, or nil.
func SubjectFromContext(ctx context.Context) *Subject {
	s, _ := ctx.Value(subjectKey{}).(*Subject)
	return s
}
