// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package metrics defines the Prometheus instruments for the service.
//
// Instruments are package-level and registered with the default registry via
// promauto. Callers use the Record* helpers rather than touching label values
// directly.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_api_rate_limit_hits_total",
			Help: "Requests rejected by the per-IP API throttle",
		},
	)

	// Moderation Metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Upload assessments by decision",
		},
		[]string{"decision"},
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_violations_total",
			Help: "Violations emitted by type",
		},
		[]string{"type"},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_risk_score",
			Help:    "Distribution of aggregate risk scores",
			Buckets: []float64{0, 10, 25, 35, 50, 65, 80, 95, 100},
		},
	)

	AssessmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_assessment_duration_seconds",
			Help:    "End-to-end upload assessment latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	// Signal Metrics
	SignalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_signal_duration_seconds",
			Help:    "Latency of individual signal checks",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"signal"},
	)

	SignalFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_signal_failures_total",
			Help: "Signal checks that errored, timed out or were rejected by an open breaker",
		},
		[]string{"signal", "reason"},
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_signals_dropped_total",
			Help: "Failed signals dropped because fail-secure is disabled",
		},
		[]string{"signal"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Rate Limiter Metrics
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_rate_limit_rejections_total",
			Help: "Uploads refused admission, by the window that refused them",
		},
		[]string{"window"},
	)

	// Ledger Metrics
	StrikesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_strikes_total",
			Help: "Strikes recorded",
		},
	)

	BansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_bans_total",
			Help: "Bans applied by type and source",
		},
		[]string{"ban_type", "source"}, // source: probing, escalation, operator
	)

	// Blocklist Metrics
	BlocklistLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_blocklist_lookups_total",
			Help: "Content hash lookups by outcome",
		},
		[]string{"result"}, // bloom_negative, store_miss, hit
	)

	// Store Metrics
	StoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_store_conflicts_total",
			Help: "Badger transaction conflicts (each retried or surfaced as CONCURRENCY_CONFLICT)",
		},
	)

	StoreGCDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_store_gc_duration_seconds",
			Help:    "Duration of value log GC passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreGCRewrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_store_gc_rewrites_total",
			Help: "Value log files rewritten by GC",
		},
	)

	// Appeals Metrics
	AppealsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_appeals_submitted_total",
			Help: "Appeals filed",
		},
	)

	AppealsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_appeals_reviewed_total",
			Help: "Appeals resolved by outcome",
		},
		[]string{"decision"},
	)

	// Audit Metrics
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_audit_events_total",
			Help: "Audit events persisted by type",
		},
		[]string{"type"},
	)

	AuditFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_audit_failures_total",
			Help: "Audit events lost to a full buffer or a store error",
		},
		[]string{"reason"}, // buffer_full, store_error
	)

	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_authz_decisions_total",
			Help: "Authorization decisions on management endpoints",
		},
		[]string{"object", "action", "result"}, // allowed, denied, error
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAPIRateLimitHit counts a request refused by the API throttle.
func RecordAPIRateLimitHit() {
	APIRateLimitHits.Inc()
}

// RecordAssessment records the outcome of one upload assessment.
func RecordAssessment(decision string, score int, violationTypes []string, duration time.Duration) {
	DecisionsTotal.WithLabelValues(decision).Inc()
	RiskScore.Observe(float64(score))
	AssessmentDuration.Observe(duration.Seconds())
	for _, t := range violationTypes {
		ViolationsTotal.WithLabelValues(t).Inc()
	}
}

// RecordSignal records a signal check's latency, and its failure reason when
// reason is not empty.
func RecordSignal(signal string, duration time.Duration, reason string) {
	SignalDuration.WithLabelValues(signal).Observe(duration.Seconds())
	if reason != "" {
		SignalFailures.WithLabelValues(signal, reason).Inc()
	}
}

// RecordSignalDropped counts a failed signal ignored under fail-open.
func RecordSignalDropped(signal string) {
	SignalsDropped.WithLabelValues(signal).Inc()
}

// RecordRateLimitRejection counts an upload refused by window.
func RecordRateLimitRejection(window string) {
	RateLimitRejections.WithLabelValues(window).Inc()
}

// RecordStrike counts a recorded strike.
func RecordStrike() {
	StrikesTotal.Inc()
}

// RecordBan counts an applied ban.
func RecordBan(banType, source string) {
	BansTotal.WithLabelValues(banType, source).Inc()
}

// RecordBlocklistLookup counts a hash lookup outcome.
func RecordBlocklistLookup(result string) {
	BlocklistLookups.WithLabelValues(result).Inc()
}

// RecordStoreConflict counts a transaction conflict.
func RecordStoreConflict() {
	StoreConflicts.Inc()
}

// RecordStoreGC records one GC pass.
func RecordStoreGC(duration time.Duration, rewrites int) {
	StoreGCDuration.Observe(duration.Seconds())
	StoreGCRewrites.Add(float64(rewrites))
}

// RecordAppealSubmitted counts a filed appeal.
func RecordAppealSubmitted() {
	AppealsSubmitted.Inc()
}

// RecordAppealReviewed counts a resolved appeal.
func RecordAppealReviewed(decision string) {
	AppealsReviewed.WithLabelValues(decision).Inc()
}

// RecordAuditEvent counts a persisted audit event.
func RecordAuditEvent(eventType string) {
	AuditEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordAuditFailure counts a lost audit event.
func RecordAuditFailure(reason string) {
	AuditFailuresTotal.WithLabelValues(reason).Inc()
}

// SetCircuitBreakerState publishes a breaker's state as 0, 1 or 2.
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordCircuitBreakerRequest counts a call through a breaker.
func RecordCircuitBreakerRequest(name, result string) {
	CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordAuthzDecision counts an authorization check.
func RecordAuthzDecision(object, action, result string) {
	AuthzDecisions.WithLabelValues(object, action, result).Inc()
}
