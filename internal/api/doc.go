// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

/*
Package api serves the HTTP boundary of the upload guard.

Routes:

	POST   /risk/assess             assess an upload (service)
	POST   /appeals                 submit an appeal for blocked content (service)
	GET    /appeals                 list appeals by status (reviewer)
	GET    /appeals/{id}            fetch an appeal (reviewer)
	POST   /appeals/{id}/review     approve or deny (reviewer)
	GET    /ws/appeals              websocket stream of appeal activity (reviewer)
	GET    /users/{id}/standing     strikes and bans (reviewer)
	POST   /users/{id}/bans         ban a user (admin)
	DELETE /users/{id}/bans         lift a ban (admin)
	GET    /health                  liveness and dependency state
	GET    /metrics                 Prometheus

Every route but /health and /metrics needs a bearer token whose roles the
casbin policy grants the route's object and action.

Every error body has the shape {"error": {"code": ..., "message": ...}}.
Responses never carry raw content hashes or device fingerprints.
*/
package api
