// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

package signature

// defaultTitles lists series and films frequently redistributed through the
// platform. A title alone never produces a violation; it needs a distribution
// marker next to it.
var defaultTitles = []string{
	// anime
	"naruto", "one piece", "bleach", "dragon ball", "dragonball",
	"attack on titan", "shingeki no kyojin",
	"demon slayer", "kimetsu no yaiba",
	"jujutsu kaisen", "my hero academia", "boku no hero",
	"hunter x hunter", "death note", "fullmetal alchemist",
	"sword art online", "tokyo ghoul", "fairy tail",
	"black clover", "chainsaw man", "spy x family",
	"one punch man", "mob psycho", "steins gate",
	"cowboy bebop", "neon genesis evangelion",

	// western series
	"game of thrones", "breaking bad", "the office",
	"stranger things", "mandalorian", "rick and morty",
	"south park", "family guy", "simpsons",

	// film franchises
	"avengers", "star wars", "harry potter", "lord of the rings",
	"spider-man", "spiderman", "batman", "superman",
	"jurassic park", "transformers",
}

// defaultMarkers are distribution markers, matched against the normalized
// file name (lowercase, "_", "." and "-" replaced by spaces).
var defaultMarkers = []string{
	`\bs\d{2}e\d{2}\b`,
	`\[[^\]]+\]`,
	`\b\d{3,4}p\b`,
	`\b(?:x26[45]|hevc|h ?26[45])\b`,
	`\b(?:blu ?ray|web ?dl|web ?rip|hdtv)\b`,
	`\bseason \d+\b`,
	`\bepisode \d+\b`,
	`\bep\d+\b`,
	`\bcomplete series\b`,
	`\bbatch\b`,
}

// defaultReleaseGroups are fansub and scene group identifiers looked for in
// upload metadata.
var defaultReleaseGroups = []string{
	"horriblesubs", "subsplease", "erai-raws", "commie",
}
