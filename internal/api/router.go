// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/authz"
	"github.com/tomtom215/warden/internal/breaker"
	"github.com/tomtom215/warden/internal/middleware"
	"github.com/tomtom215/warden/internal/models"
	ws "github.com/tomtom215/warden/internal/websocket"
)

// Assessor evaluates uploads.
type Assessor interface {
	Assess(ctx context.Context, ev *models.UploadEvent) (*models.RiskAssessment, error)
}

// AppealService runs the appeal workflow.
type AppealService interface {
	Submit(ctx context.Context, userID, blockedContentID, reason string, evidence map[string]string) (*models.Appeal, error)
	Review(ctx context.Context, appealID, reviewer string, decision models.AppealStatus, notes string) (*models.Appeal, error)
	Get(ctx context.Context, id string) (*models.Appeal, error)
	List(ctx context.Context, status models.AppealStatus, limit int) ([]models.Appeal, error)
}

// Ledger exposes standing and operator bans.
type Ledger interface {
	Standing(ctx context.Context, userID string) (*models.UserStanding, error)
	TempBan(ctx context.Context, userID, reason string, duration time.Duration, actor audit.Actor) (*models.Ban, error)
	PermBan(ctx context.Context, userID, reason string, actor audit.Actor) (*models.Ban, error)
	LiftBan(ctx context.Context, userID string, actor audit.Actor) (*models.Ban, error)
}

// HealthCheck probes one dependency. A nil error is healthy.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the handlers call.
type Deps struct {
	Assessor   Assessor
	Appeals    AppealService
	Ledger     Ledger
	JWT        *auth.JWTManager
	Enforcer   *authz.Enforcer
	Checks     map[string]HealthCheck
	Breakers   map[string]*breaker.Breaker
	Middleware MiddlewareConfig

	// Hub streams appeal activity to reviewer consoles. Optional.
	Hub *ws.Hub
}

// Router owns the handler dependencies.
type Router struct {
	deps    Deps
	started time.Time
}

// NewRouter checks deps and returns a Router.
func NewRouter(deps Deps) (*Router, error) {
	switch {
	case deps.Assessor == nil:
		return nil, errors.New("api: assessor is required")
	case deps.Appeals == nil:
		return nil, errors.New("api: appeal service is required")
	case deps.Ledger == nil:
		return nil, errors.New("api: ledger is required")
	case deps.JWT == nil || deps.Enforcer == nil:
		return nil, errors.New("api: authentication and authorization are required")
	}
	return &Router{deps: deps, started: time.Now()}, nil
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(rt.deps.Middleware))

	r.Get("/health", rt.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(rt.deps.Middleware))
		r.Use(securityHeaders)
		r.Use(middleware.PrometheusMetrics)

		r.Group(func(r chi.Router) {
			r.Use(rt.deps.JWT.Authenticate(writeError))

			authorize := func(object, action string) func(http.Handler) http.Handler {
				return rt.deps.Enforcer.Authorize(object, action, writeError)
			}

			r.With(authorize(authz.ObjectAssessments, authz.ActionWrite)).Post("/risk/assess", rt.AssessUpload)
			r.With(authorize(authz.ObjectAppeals, authz.ActionSubmit)).Post("/appeals", rt.SubmitAppeal)

			r.With(authorize(authz.ObjectAppeals, authz.ActionRead)).Get("/appeals", rt.ListAppeals)
			r.With(authorize(authz.ObjectAppeals, authz.ActionRead)).Get("/appeals/{id}", rt.GetAppeal)
			r.With(authorize(authz.ObjectAppeals, authz.ActionReview)).Post("/appeals/{id}/review", rt.ReviewAppeal)
			r.With(authorize(authz.ObjectAppeals, authz.ActionRead)).Get("/ws/appeals", rt.AppealStream)

			r.With(authorize(authz.ObjectStanding, authz.ActionRead)).Get("/users/{id}/standing", rt.UserStanding)
			r.With(authorize(authz.ObjectBans, authz.ActionWrite)).Post("/users/{id}/bans", rt.BanUser)
			r.With(authorize(authz.ObjectBans, authz.ActionDelete)).Delete("/users/{id}/bans", rt.LiftBan)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return r
}
