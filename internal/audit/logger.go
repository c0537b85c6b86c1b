// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/metrics"
)

// Recorder accepts audit events. Implementations must not block.
type Recorder interface {
	Log(ctx context.Context, event *Event)
}

// Config holds configuration for the audit logger.
type Config struct {
	Enabled    bool
	BufferSize int

	// WriteTimeout bounds each Store.Save call.
	WriteTimeout time.Duration

	// AlertInterval is the minimum spacing between failure alert logs.
	AlertInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		WriteTimeout:  5 * time.Second,
		AlertInterval: time.Minute,
	}
}

// Logger buffers events and writes them to a Store from Serve.
type Logger struct {
	config    Config
	store     Store
	eventChan chan *Event
	alerts    *rate.Limiter
	now       func() time.Time

	dropped  atomic.Int64
	failures atomic.Int64
}

// NewLogger creates a new audit logger. Nothing is written until Serve runs.
func NewLogger(store Store, config Config) *Logger {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.AlertInterval <= 0 {
		config.AlertInterval = DefaultConfig().AlertInterval
	}
	return &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		alerts:    rate.NewLimiter(rate.Every(config.AlertInterval), 1),
		now:       time.Now,
	}
}

// Log stamps event and enqueues it. A full buffer drops the event.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if !l.config.Enabled || event == nil {
		return
	}
	stamp(ctx, event, l.now)

	select {
	case l.eventChan <- event:
	default:
		l.dropped.Add(1)
		metrics.RecordAuditFailure("buffer_full")
		l.alert("audit buffer full, dropping event", event, nil)
	}
}

// Serve drains the buffer into the store until ctx is done, then flushes
// what is left and returns.
func (l *Logger) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return ctx.Err()
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

// String names the service for the supervisor.
func (l *Logger) String() string {
	return "audit-writer"
}

func (l *Logger) writeEvent(event *Event) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		l.failures.Add(1)
		metrics.RecordAuditFailure("store_error")
		l.alert("failed to save audit event", event, err)
		return
	}
	metrics.RecordAuditEvent(string(event.Type))
}

// alert logs at ERROR at most once per AlertInterval. Suppressed alerts are
// still counted in metrics.
func (l *Logger) alert(msg string, event *Event, err error) {
	if !l.alerts.Allow() {
		return
	}
	e := logging.Error().
		Str("component", "audit").
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Int64("dropped_total", l.dropped.Load()).
		Int64("failed_total", l.failures.Load())
	if err != nil {
		e = e.Err(err)
	}
	e.Msg(msg)
}

// Dropped returns how many events were dropped on a full buffer.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Failed returns how many events the store rejected.
func (l *Logger) Failed() int64 {
	return l.failures.Load()
}

// Pending returns the number of buffered events.
func (l *Logger) Pending() int {
	return len(l.eventChan)
}

// Direct returns a Recorder that saves synchronously to store. It is meant
// for tests and tools where ordering matters more than latency.
func Direct(store Store) Recorder {
	return directRecorder{store: store}
}

type directRecorder struct {
	store Store
}

func (d directRecorder) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	stamp(ctx, event, time.Now)
	if err := d.store.Save(context.WithoutCancel(ctx), event); err != nil {
		metrics.RecordAuditFailure("store_error")
		logging.Ctx(ctx).Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to save audit event")
	}
}

// Nop discards every event.
type Nop struct{}

// Log implements Recorder.
func (Nop) Log(context.Context, *Event) {}

func stamp(ctx context.Context, event *Event, now func() time.Time) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = logging.RequestIDFromContext(ctx)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = logging.CorrelationIDFromContext(ctx)
	}
}
