// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package validation

import (
	"strings"
	"testing"

	"github.com/tomtom215/warden/internal/models"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 == nil {
		t.Fatal("GetValidator() should not return nil")
	}
	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
}

func validUpload() models.UploadEvent {
	return models.UploadEvent{
		FileName:    "sketch.png",
		SizeBytes:   1024,
		ContentHash: testHash,
		MimeType:    "image/png",
		UploaderID:  "user-1",
	}
}

func TestValidateStruct_UploadEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(e *models.UploadEvent)
		wantField string
		wantTag   string
	}{
		{name: "valid", mutate: func(*models.UploadEvent) {}},
		{
			name:      "missing file name",
			mutate:    func(e *models.UploadEvent) { e.FileName = "" },
			wantField: "file_name",
			wantTag:   "required",
		},
		{
			name:      "missing uploader",
			mutate:    func(e *models.UploadEvent) { e.UploaderID = "" },
			wantField: "uploader_id",
			wantTag:   "required",
		},
		{
			name:      "negative size",
			mutate:    func(e *models.UploadEvent) { e.SizeBytes = -1 },
			wantField: "size_bytes",
			wantTag:   "gte",
		},
		{
			name:      "non-hex hash",
			mutate:    func(e *models.UploadEvent) { e.ContentHash = strings.Repeat("z", 64) },
			wantField: "content_hash",
			wantTag:   "hexhash",
		},
		{
			name:      "short hash",
			mutate:    func(e *models.UploadEvent) { e.ContentHash = "abc123" },
			wantField: "content_hash",
			wantTag:   "hexhash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			event := validUpload()
			tt.mutate(&event)

			verr := ValidateStruct(&event)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("ValidateStruct() unexpected error: %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("ValidateStruct() should have returned an error")
			}

			found := false
			for _, e := range verr.Errors() {
				if e.Field() == tt.wantField && e.Tag() == tt.wantTag {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected error on %s/%s, got %v", tt.wantField, tt.wantTag, verr.Errors())
			}
		})
	}
}

func TestValidateStruct_ReviewRequest(t *testing.T) {
	t.Parallel()

	if verr := ValidateStruct(&models.ReviewRequest{Decision: models.AppealApproved}); verr != nil {
		t.Errorf("APPROVED should validate: %v", verr)
	}
	if verr := ValidateStruct(&models.ReviewRequest{Decision: models.AppealPending}); verr == nil {
		t.Error("PENDING_REVIEW is not a review decision")
	}
}

func TestValidateStruct_BanRequest(t *testing.T) {
	t.Parallel()

	temp := models.BanRequest{BanType: models.BanTemporary, Reason: "probing"}
	if verr := ValidateStruct(&temp); verr == nil {
		t.Error("temporary ban without duration should fail")
	}

	perm := models.BanRequest{BanType: models.BanPermanent, Reason: "repeat"}
	if verr := ValidateStruct(&perm); verr != nil {
		t.Errorf("permanent ban without duration should validate: %v", verr)
	}
}

func TestToAPIError(t *testing.T) {
	t.Parallel()

	event := validUpload()
	event.UploaderID = ""
	apiErr := ValidateStruct(&event).ToAPIError()

	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Message != "uploader_id is required" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "uploader_id" {
		t.Errorf("Details[field] = %v", apiErr.Details["field"])
	}

	event.FileName = ""
	multi := ValidateStruct(&event).ToAPIError()
	if !strings.Contains(multi.Message, "file_name: file_name is required") {
		t.Errorf("multi-error message = %q", multi.Message)
	}
	if _, ok := multi.Details["fields"]; !ok {
		t.Error("multi-error details should list fields")
	}
}

func TestIsHexHash(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		testHash:                 true,
		strings.Repeat("a", 32):  true,
		strings.Repeat("A", 128): true,
		strings.Repeat("a", 31):  false,
		strings.Repeat("a", 129): false,
		"":                       false,
		"g" + testHash[1:]:       false,
	}
	for in, want := range tests {
		if got := IsHexHash(in); got != want {
			t.Errorf("IsHexHash(%q) = %v, want %v", in, got, want)
		}
	}
}
