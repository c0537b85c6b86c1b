// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/warden/internal/appeals"
	"github.com/tomtom215/warden/internal/ledger"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/store"
	"github.com/tomtom215/warden/internal/validation"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// ErrorBody is the error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine code and a human message.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// writeError has the auth.ErrorWriter signature so that authentication and
// authorization failures share the envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}

func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondJSON(w, http.StatusBadRequest, &ErrorBody{Error: ErrorDetail{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}})
}

// respondError maps a service error to its status and code. Unknown errors
// are logged and reported as INTERNAL_ERROR without detail.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		respondValidation(w, verr)
		return
	}

	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}
	writeError(w, status, code, message)
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, appeals.ErrAppealNotFound):
		return http.StatusNotFound, "APPEAL_NOT_FOUND", "Appeal not found"
	case errors.Is(err, appeals.ErrAppealAlreadyResolved):
		return http.StatusConflict, "APPEAL_ALREADY_RESOLVED", "Appeal has already been resolved"
	case errors.Is(err, appeals.ErrAppealAlreadyPending):
		return http.StatusConflict, "APPEAL_ALREADY_PENDING", "An appeal is already pending for this content"
	case errors.Is(err, appeals.ErrContentNotFound):
		return http.StatusNotFound, "CONTENT_NOT_FOUND", "Blocked content not found"
	case errors.Is(err, appeals.ErrInvalidDecision):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, ledger.ErrNoActiveBan):
		return http.StatusNotFound, "NO_ACTIVE_BAN", "User has no active ban"
	case errors.Is(err, ledger.ErrInvalidDuration):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, store.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable, "CONCURRENCY_CONFLICT", "Concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}

// decodeJSON reads a single JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body is required")
		default:
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Malformed JSON body")
		}
		return false
	}
	return true
}
