// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package signature

import (
	"testing"

	"github.com/tomtom215/warden/internal/models"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestMatcher_FileNames(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	tests := []struct {
		name     string
		fileName string
		want     []models.ViolationType
	}{
		{"title with episode marker", "One Piece S01E05 1080p.mp4", []models.ViolationType{models.ViolationCopyrightedContent}},
		{"title only", "My Naruto-inspired OC fanart.png", nil},
		{"marker only", "Battle_Scene_1080p_final_cut.mp4", []models.ViolationType{models.ViolationPossiblePiracyPattern}},
		{"bracketed group and title", "[SomeGroup] Jujutsu Kaisen - 03.mkv", []models.ViolationType{models.ViolationCopyrightedContent}},
		{"codec with dots", "breaking.bad.x264.mkv", []models.ViolationType{models.ViolationCopyrightedContent}},
		{"h.265 normalized", "clip.h.265.mp4", []models.ViolationType{models.ViolationPossiblePiracyPattern}},
		{"web-dl source", "Stranger_Things_WEB-DL.mkv", []models.ViolationType{models.ViolationCopyrightedContent}},
		{"season word", "rick and morty season 4.zip", []models.ViolationType{models.ViolationCopyrightedContent}},
		{"title inside another word", "narutoverse S01E01.mp4", []models.ViolationType{models.ViolationPossiblePiracyPattern}},
		{"clean", "sunset_sketch_v2.psd", nil},
		{"year is not a resolution", "holiday 2024.png", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Check(tt.fileName, nil)
			if len(got) != len(tt.want) {
				t.Fatalf("Check(%q) = %v, want types %v", tt.fileName, got, tt.want)
			}
			for i := range got {
				if got[i].Type != tt.want[i] {
					t.Errorf("violation[%d] = %s, want %s", i, got[i].Type, tt.want[i])
				}
			}
		})
	}
}

func TestMatcher_CopyrightedShape(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	res := m.Inspect("One Piece S01E05 1080p.mp4", nil)
	if res.Title != "one piece" {
		t.Errorf("Title = %q", res.Title)
	}
	if res.Marker == "" {
		t.Error("expected a marker")
	}

	v := res.Violations[0]
	if v.Severity != models.SeverityCritical || !v.Blocked || v.RiskContribution != 95 {
		t.Errorf("unexpected violation %+v", v)
	}

	p := m.Check("Battle_Scene_1080p_final_cut.mp4", nil)[0]
	if p.Severity != models.SeverityMedium || p.Blocked || p.RiskContribution != 35 {
		t.Errorf("unexpected pattern violation %+v", p)
	}
}

func TestMatcher_Metadata(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	got := m.Check("drawing.png", map[string]string{
		"comment": "ripped by Erai-raws",
		"source":  "SubsPlease",
	})
	if len(got) != 1 {
		t.Fatalf("expected exactly one FANSUB_GROUP violation, got %v", got)
	}
	v := got[0]
	if v.Type != models.ViolationFansubGroup || !v.Blocked || !v.Appealable || v.RiskContribution != 90 {
		t.Errorf("unexpected violation %+v", v)
	}

	if got := m.Check("drawing.png", map[string]string{"horriblesubs": "1"}); len(got) != 1 {
		t.Errorf("group in key should match, got %v", got)
	}
	if got := m.Check("drawing.png", map[string]string{"note": "commies united"}); len(got) != 0 {
		t.Errorf("partial word should not match, got %v", got)
	}
}

func TestMatcher_Config(t *testing.T) {
	t.Parallel()

	m, err := New(Config{Titles: []string{"Sky Pirates"}, ExtraMarkers: []string{`\bremux\b`}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := m.Check("sky_pirates_remux.mkv", nil)
	if len(got) != 1 || got[0].Type != models.ViolationCopyrightedContent {
		t.Errorf("configured title+marker should match, got %v", got)
	}
	if got := m.Check("One Piece S01E05.mp4", nil); len(got) != 1 || got[0].Type != models.ViolationCopyrightedContent {
		t.Errorf("defaults should be kept, got %v", got)
	}

	only, err := New(Config{Titles: []string{"sky pirates"}, ExtraMarkers: []string{`\bremux\b`}, ReplaceDefaults: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := only.Check("One Piece S01E05.mp4", nil); len(got) != 0 {
		t.Errorf("defaults replaced, got %v", got)
	}

	if _, err := New(Config{ExtraMarkers: []string{"("}}); err == nil {
		t.Error("expected error for invalid marker")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := Normalize("Spider-Man_No.Way"); got != "spider man no way" {
		t.Errorf("Normalize() = %q", got)
	}
}
