// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package models defines the entities shared by the moderation pipeline,
// its stores and the HTTP boundary.
package models

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// UploadEvent is one inbound content submission. It is assessed and then
// discarded; only the derived AttemptRecord and ContentRecord are persisted.
type UploadEvent struct {
	// ContentID is the upload handler's id for the content. Generated when
	// empty; it is the appeal reference returned on a block.
	ContentID   string            `json:"content_id,omitempty" validate:"omitempty,max=128"`
	FileName    string            `json:"file_name" validate:"required,max=1024"`
	SizeBytes   int64             `json:"size_bytes" validate:"gte=0"`
	ContentHash string            `json:"content_hash" validate:"required,hexhash"`
	MimeType    string            `json:"mime_type" validate:"omitempty,max=255"`
	Metadata    map[string]string `json:"metadata,omitempty" validate:"omitempty,max=64,dive,keys,max=128,endkeys,max=4096"`
	UploaderID  string            `json:"uploader_id" validate:"required,max=128"`
	Request     RequestContext    `json:"request_context"`
	Timestamp   time.Time         `json:"timestamp"`
}

// IsVideo reports whether the declared MIME type is a video type.
func (e *UploadEvent) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(e.MimeType), "video/")
}

// RequestContext is the slice of the original HTTP request the identity
// checks need.
type RequestContext struct {
	RemoteAddr string      `json:"remote_addr,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
}

// NewRequestContext captures the remote address and headers of r.
func NewRequestContext(r *http.Request) RequestContext {
	return RequestContext{
		RemoteAddr: r.RemoteAddr,
		Headers:    r.Header.Clone(),
	}
}

// Header returns the first value for key, case-insensitively.
func (rc RequestContext) Header(key string) string {
	if v := rc.Headers.Get(key); v != "" {
		return v
	}
	// Headers decoded from JSON keep the caller's casing.
	for k, vs := range rc.Headers {
		if len(vs) > 0 && strings.EqualFold(k, key) {
			return vs[0]
		}
	}
	return ""
}

// ClientIP resolves the client address. Proxy headers are consulted in the
// order CF-Connecting-IP, X-Real-IP, X-Forwarded-For (first hop), then the
// socket address. Returns "" when nothing parses.
func (rc RequestContext) ClientIP() string {
	if ip := parseIP(rc.Header("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := parseIP(rc.Header("X-Real-IP")); ip != "" {
		return ip
	}
	if xff := rc.Header("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}
	host := rc.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
