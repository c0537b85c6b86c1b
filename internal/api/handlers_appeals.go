// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/warden/internal/appeals"
	"github.com/tomtom215/warden/internal/auth"
	"github.com/tomtom215/warden/internal/models"
	"github.com/tomtom215/warden/internal/validation"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// SubmitAppeal files an appeal against a block.
func (rt *Router) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.AppealSubmission
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	a, err := rt.deps.Appeals.Submit(r.Context(), req.UserID, req.BlockedContentID, req.Reason, req.Evidence)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

// ReviewAppeal records a reviewer's decision. The reviewer is the
// authenticated subject.
func (rt *Router) ReviewAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.ReviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	reviewer := auth.SubjectFromContext(r.Context())
	a, err := rt.deps.Appeals.Review(r.Context(), chi.URLParam(r, "id"), reviewer.ID, req.Decision, req.Notes)
	if errors.Is(err, appeals.ErrAppealAlreadyResolved) && a != nil {
		respondJSON(w, http.StatusConflict, &struct {
			ErrorBody
			Appeal *models.Appeal `json:"appeal"`
		}{
			ErrorBody: ErrorBody{Error: ErrorDetail{Code: "APPEAL_ALREADY_RESOLVED", Message: "Appeal has already been resolved"}},
			Appeal:    a,
		})
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// GetAppeal returns one appeal.
func (rt *Router) GetAppeal(w http.ResponseWriter, r *http.Request) {
	a, err := rt.deps.Appeals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// ListAppeals lists appeals with ?status= (default PENDING_REVIEW), oldest
// first, up to ?limit=.
func (rt *Router) ListAppeals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.AppealStatus(q.Get("status"))
	if status == "" {
		status = models.AppealPending
	}
	if status != models.AppealPending && !status.Resolved() {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status must be PENDING_REVIEW, APPROVED or DENIED")
		return
	}

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	list, err := rt.deps.Appeals.List(r.Context(), status, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Appeal{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"appeals": list,
		"count":   len(list),
	})
}
