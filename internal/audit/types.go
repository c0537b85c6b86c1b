// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package audit records moderation decisions, ledger mutations and appeal
// outcomes for later review.
//
// Delivery is asynchronous and best-effort. Logger.Log never blocks the
// caller: events go into a bounded buffer drained by a writer goroutine, and
// an event that cannot be buffered or persisted is counted and alerted on,
// not retried.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Moderation events
	EventTypeDecision           EventType = "moderation.decision"
	EventTypeRateLimited        EventType = "moderation.rate_limited"
	EventTypeValidationRejected EventType = "moderation.validation_rejected"

	// Ledger events
	EventTypeStrike    EventType = "ledger.strike"
	EventTypeBan       EventType = "ledger.ban"
	EventTypeBanLifted EventType = "ledger.ban_lifted"

	// Appeal events
	EventTypeAppealSubmitted EventType = "appeal.submitted"
	EventTypeAppealReviewed  EventType = "appeal.reviewed"
	EventTypeAppealRejected  EventType = "appeal.rejected"

	// Identity events
	EventTypeEvasionSuspected EventType = "identity.evasion_suspected"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	// Actor performed the action: the uploader, a reviewer or the system.
	Actor Actor `json:"actor"`

	// Target is the object acted on.
	Target *Target `json:"target,omitempty"`

	Action      string          `json:"action"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Actor represents who performed an action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // user, reviewer, system
}

// Target represents the object of an action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // user, content, appeal
}

// Actor types.
const (
	ActorUser     = "user"
	ActorReviewer = "reviewer"
	ActorOperator = "operator"
	ActorSystem   = "system"
)

// SystemActor is the actor for automated enforcement.
func SystemActor() Actor {
	return Actor{ID: "warden", Type: ActorSystem}
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Close() error
}

// Querier is implemented by stores that can read events back.
type Querier interface {
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// ErrNotQueryable is returned by sinks that only forward events.
var ErrNotQueryable = errors.New("audit store does not support queries")

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Types         []EventType `json:"types,omitempty"`
	ActorID       string      `json:"actor_id,omitempty"`
	TargetID      string      `json:"target_id,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	StartTime     *time.Time  `json:"start_time,omitempty"`
	EndTime       *time.Time  `json:"end_time,omitempty"`

	// Limit caps the result size; results are newest first.
	Limit int `json:"limit,omitempty"`
}

func (f *QueryFilter) matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.TargetID != "" && (e.Target == nil || e.Target.ID != f.TargetID) {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// mustJSON converts a value to JSON, returning empty object on error.
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
