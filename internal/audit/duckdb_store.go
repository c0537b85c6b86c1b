// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/tomtom215/warden/internal/logging"
)

// DuckDBStore implements Store on an embedded DuckDB file, for deployments
// without a message broker.
type DuckDBStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	owns bool
}

// OpenDuckDBStore opens (or creates) the database at path and ensures the
// schema. An empty path opens an in-memory database.
func OpenDuckDBStore(ctx context.Context, path string) (*DuckDBStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// DuckDB allows a single writer per file.
	db.SetMaxOpenConns(1)

	s := &DuckDBStore{db: db, owns: true}
	if err := s.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewDuckDBStore wraps an existing connection. The caller must call
// CreateTable and remains responsible for closing db.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			outcome TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			target_id TEXT,
			target_type TEXT,
			action TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSON,
			correlation_id TEXT,
			request_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor_id ON audit_events(actor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target_id ON audit_events(target_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	logging.Debug().Msg("audit_events table created/verified")
	return nil
}

// Save persists an audit event to DuckDB.
func (s *DuckDBStore) Save(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	var targetID, targetType, metadata *string
	if event.Target != nil {
		targetID, targetType = &event.Target.ID, &event.Target.Type
	}
	if len(event.Metadata) > 0 {
		m := string(event.Metadata)
		metadata = &m
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, type, severity, outcome,
			actor_id, actor_type, target_id, target_type,
			action, description, metadata, correlation_id, request_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, string(event.Type), string(event.Severity), string(event.Outcome),
		event.Actor.ID, event.Actor.Type, targetID, targetType,
		event.Action, event.Description, metadata, event.CorrelationID, event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}

// Query retrieves events matching the filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                    Event
			eventType, sev, out  string
			targetID, targetType sql.NullString
			metadata             sql.NullString
			correlation, request sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &sev, &out,
			&e.Actor.ID, &e.Actor.Type, &targetID, &targetType,
			&e.Action, &e.Description, &metadata, &correlation, &request,
		); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		e.Type, e.Severity, e.Outcome = EventType(eventType), Severity(sev), Outcome(out)
		if targetID.Valid {
			e.Target = &Target{ID: targetID.String, Type: targetType.String}
		}
		if metadata.Valid && metadata.String != "" {
			e.Metadata = []byte(metadata.String)
		}
		e.CorrelationID, e.RequestID = correlation.String, request.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

func buildQuery(filter QueryFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, "type IN ("+strings.Join(placeholders, ",")+")")
	}
	for _, c := range []struct{ column, value string }{
		{"actor_id", filter.ActorID},
		{"target_id", filter.TargetID},
		{"correlation_id", filter.CorrelationID},
	} {
		if c.value != "" {
			conditions = append(conditions, c.column+" = ?")
			args = append(args, c.value)
		}
	}
	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	query := `
		SELECT id, timestamp, type, severity, outcome,
			actor_id, actor_type, target_id, target_type,
			action, description, CAST(metadata AS VARCHAR), correlation_id, request_id
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return query, args
}

// Close closes the database when the store opened it.
func (s *DuckDBStore) Close() error {
	if !s.owns {
		return nil
	}
	return s.db.Close()
}
