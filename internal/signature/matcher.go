// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package signature matches file names and upload metadata against known
// titles, distribution markers and release groups.
//
// The file name check is two-tier. A known title together with a distribution
// marker (episode numbering, release-group brackets, resolution, codec or
// source tags) is COPYRIGHTED_CONTENT and blocks. A marker alone is only a
// POSSIBLE_PIRACY_PATTERN. A title alone is ignored, so fan art named after a
// series passes.
package signature

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/warden/internal/cache"
	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/models"
)

// Risk contributions of the violations this package produces.
const (
	CopyrightedContribution   = 95
	PiracyPatternContribution = 35
	FansubGroupContribution   = 90
)

// Config supplies the dictionaries. Empty slices with ReplaceDefaults unset
// use the built-in lists.
type Config struct {
	Titles        []string
	ReleaseGroups []string
	ExtraMarkers  []string

	// ReplaceDefaults uses only the configured lists.
	ReplaceDefaults bool
}

// Matcher is safe for concurrent use once constructed.
type Matcher struct {
	titles  *cache.AhoCorasick
	groups  *cache.AhoCorasick
	markers []*regexp.Regexp
	logger  zerolog.Logger
}

// New compiles the dictionaries. It fails only on an invalid marker regex.
func New(cfg Config) (*Matcher, error) {
	titles := cfg.Titles
	groups := cfg.ReleaseGroups
	markerExprs := cfg.ExtraMarkers
	if !cfg.ReplaceDefaults {
		titles = append(append([]string{}, defaultTitles...), cfg.Titles...)
		groups = append(append([]string{}, defaultReleaseGroups...), cfg.ReleaseGroups...)
		markerExprs = append(append([]string{}, defaultMarkers...), cfg.ExtraMarkers...)
	}

	markers := make([]*regexp.Regexp, 0, len(markerExprs))
	for _, expr := range markerExprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compile marker %q: %w", expr, err)
		}
		markers = append(markers, re)
	}

	return &Matcher{
		titles:  cache.NewWordMatcher(normalizeAll(titles), "title"),
		groups:  cache.NewWordMatcher(normalizeAll(groups), "release_group"),
		markers: markers,
		logger:  logging.WithComponent("signature"),
	}, nil
}

// Normalize lowercases name and turns "_", "." and "-" into spaces.
func Normalize(name string) string {
	return normalizer.Replace(strings.ToLower(name))
}

var normalizer = strings.NewReplacer("_", " ", ".", " ", "-", " ")

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, Normalize(s))
	}
	return out
}

// Result is the detail of one Check, for logging and tests. It never reaches
// user-facing messages.
type Result struct {
	Title      string
	Marker     string
	Group      string
	Violations []models.Violation
}

// Check returns the violations for fileName and metadata.
func (m *Matcher) Check(fileName string, metadata map[string]string) []models.Violation {
	return m.Inspect(fileName, metadata).Violations
}

// Inspect is Check with the matched dictionary entries.
func (m *Matcher) Inspect(fileName string, metadata map[string]string) Result {
	var res Result

	name := Normalize(fileName)
	if matches := m.titles.SearchWords(name); len(matches) > 0 {
		res.Title = matches[0].Pattern
	}
	for _, re := range m.markers {
		if loc := re.FindString(name); loc != "" {
			res.Marker = loc
			break
		}
	}

	switch {
	case res.Title != "" && res.Marker != "":
		res.Violations = append(res.Violations, models.Violation{
			Type:             models.ViolationCopyrightedContent,
			Severity:         models.SeverityCritical,
			Message:          "File name identifies copyrighted content",
			Blocked:          true,
			RiskContribution: CopyrightedContribution,
			Appealable:       true,
		})
	case res.Marker != "":
		res.Violations = append(res.Violations, models.Violation{
			Type:             models.ViolationPossiblePiracyPattern,
			Severity:         models.SeverityMedium,
			Message:          "File name follows a common redistribution naming pattern",
			RiskContribution: PiracyPatternContribution,
			Appealable:       true,
		})
	}

	if group := m.scanMetadata(metadata); group != "" {
		res.Group = group
		res.Violations = append(res.Violations, models.Violation{
			Type:             models.ViolationFansubGroup,
			Severity:         models.SeverityCritical,
			Message:          "Metadata references a known release group",
			Blocked:          true,
			RiskContribution: FansubGroupContribution,
			Appealable:       true,
		})
	}

	if len(res.Violations) > 0 {
		m.logger.Debug().
			Str("title", res.Title).
			Str("marker", res.Marker).
			Str("group", res.Group).
			Int("violations", len(res.Violations)).
			Msg("signature match")
	}

	return res
}

// scanMetadata returns the first release group found in a key or value.
// Keys are visited in sorted order so the result is deterministic.
func (m *Matcher) scanMetadata(metadata map[string]string) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, text := range [2]string{k, metadata[k]} {
			if matches := m.groups.SearchWords(Normalize(text)); len(matches) > 0 {
				return matches[0].Pattern
			}
		}
	}
	return ""
}
