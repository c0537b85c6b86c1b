// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package models

import "time"

// AppealStatus is the appeal lifecycle state. APPROVED and DENIED are terminal.
type AppealStatus string

const (
	AppealPending  AppealStatus = "PENDING_REVIEW"
	AppealApproved AppealStatus = "APPROVED"
	AppealDenied   AppealStatus = "DENIED"
)

// Resolved reports whether the status is terminal.
func (s AppealStatus) Resolved() bool {
	return s == AppealApproved || s == AppealDenied
}

// Appeal disputes an automated block.
type Appeal struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	BlockedContentID string            `json:"blocked_content_id"`
	Reason           string            `json:"reason"`
	Evidence         map[string]string `json:"evidence,omitempty"`
	Status           AppealStatus      `json:"status"`
	Reviewer         string            `json:"reviewer,omitempty"`
	ReviewNotes      string            `json:"review_notes,omitempty"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	ReviewedAt       *time.Time        `json:"reviewed_at,omitempty"`
}

// AppealSubmission is the request body for filing an appeal.
type AppealSubmission struct {
	UserID           string            `json:"user_id" validate:"required,max=128"`
	BlockedContentID string            `json:"blocked_content_id" validate:"required,max=128"`
	Reason           string            `json:"reason" validate:"required,min=10,max=2000"`
	Evidence         map[string]string `json:"evidence,omitempty" validate:"omitempty,max=20,dive,keys,max=64,endkeys,max=2000"`
}

// ReviewRequest is the request body for deciding an appeal. The reviewer is
// taken from the authenticated caller, not the body.
type ReviewRequest struct {
	Decision AppealStatus `json:"decision" validate:"required,oneof=APPROVED DENIED"`
	Notes    string       `json:"notes" validate:"max=2000"`
}

// BanRequest is the operator request body for imposing a ban.
type BanRequest struct {
	BanType  BanType `json:"ban_type" validate:"required,oneof=TEMPORARY PERMANENT"`
	Reason   string  `json:"reason" validate:"required,max=500"`
	Duration string  `json:"duration,omitempty" validate:"required_if=BanType TEMPORARY"`
}
