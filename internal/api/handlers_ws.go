// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/warden/internal/logging"
)

// AppealStream upgrades a reviewer console to a websocket that receives
// appeal_submitted and appeal_decided messages.
func (rt *Router) AppealStream(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Appeal stream unavailable")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      rt.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	rt.deps.Hub.Attach(conn)
}

// checkOrigin admits non-browser clients, which send no Origin, and browsers
// from a configured CORS origin.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := rt.deps.Middleware.CORSAllowedOrigins
	if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
		return true
	}
	logging.Ctx(r.Context()).Warn().Str("origin", logging.Truncate(origin, 128)).Msg("websocket origin rejected")
	return false
}
