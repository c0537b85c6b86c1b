// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/warden/internal/audit"
	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/validation"
)

// UserStanding returns the derived standing of a user.
func (rt *Router) UserStanding(w http.ResponseWriter, r *http.Request) {
	standing, err := rt.deps.Ledger.Standing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, standing)
}

// BanUser applies an operator ban.
func (rt *Router) BanUser(w http.ResponseWriter, r *http.Request) {
	var req models.BanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	userID := chi.URLParam(r, "id")
	actor := operator(r)

	var (
		ban *models.Ban
		err error
	)
	switch req.BanType {
	case models.BanTemporary:
		d, perr := time.ParseDuration(req.Duration)
		if perr != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "duration must be a positive Go duration such as 72h")
			return
		}
		ban, err = rt.deps.Ledger.TempBan(r.Context(), userID, req.Reason, d, actor)
	default:
		ban, err = rt.deps.Ledger.PermBan(r.Context(), userID, req.Reason, actor)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ban)
}

// LiftBan ends the user's active ban.
func (rt *Router) LiftBan(w http.ResponseWriter, r *http.Request) {
	ban, err := rt.deps.Ledger.LiftBan(r.Context(), chi.URLParam(r, "id"), operator(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ban)
}

func operator(r *http.Request) audit.Actor {
	return audit.Actor{ID: auth.SubjectFromContext(r.Context()).ID, Type: audit.ActorOperator}
}
