// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package cache provides the in-memory matching and membership structures used
// on the upload hot path: a multi-pattern dictionary automaton and a Bloom
// filter.
package cache

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// AhoCorasick implements the Aho-Corasick string matching algorithm.
// It finds all occurrences of a dictionary of patterns in one pass over the
// text, in O(n + m + z) time where:
//   - n = length of text
//   - m = total length of all patterns
//   - z = number of matches
//
// Matching is case-insensitive. SearchWords restricts results to matches that
// start and end on word boundaries, so "naruto" matches "naruto ep 3" but not
// "narutoverse".
//
// Example:
//
//	ac := NewAhoCorasick()
//	ac.AddPattern("one piece", "title")
//	ac.AddPattern("bleach", "title")
//	ac.Build()
//
//	matches := ac.SearchWords("one piece s01e05 1080p mp4")
//	// matches contains Match{Pattern: "one piece", Data: "title", Position: 0}
type AhoCorasick struct {
	mu       sync.RWMutex
	root     *acNode
	patterns []Pattern
	built    bool
}

type acNode struct {
	children map[rune]*acNode
	failure  *acNode
	output   []int // indices of patterns ending here, including via failure links
}

// Pattern is a search pattern with associated data.
type Pattern struct {
	Text string // lowercased pattern text
	Data any    // caller data, e.g. a category
}

// Match is one pattern occurrence in a text.
type Match struct {
	Pattern  string // the matched pattern
	Data     any    // data registered with the pattern
	Position int    // byte offset of the match start in the lowercased text
	End      int    // byte offset one past the match end
}

// NewAhoCorasick creates an empty automaton.
func NewAhoCorasick() *AhoCorasick {
	return &AhoCorasick{root: newACNode()}
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

// AddPattern adds a pattern. Blank patterns are ignored. Adding after Build
// marks the automaton for rebuild.
func (ac *AhoCorasick) AddPattern(pattern string, data any) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.built = false
	ac.patterns = append(ac.patterns, Pattern{Text: pattern, Data: data})
}

// AddPatterns adds multiple patterns sharing the same data.
func (ac *AhoCorasick) AddPatterns(patterns []string, data any) {
	for _, p := range patterns {
		ac.AddPattern(p, data)
	}
}

// Build constructs the trie and its failure links. It must be called after
// the last AddPattern and before searching.
func (ac *AhoCorasick) Build() {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.built {
		return
	}

	ac.root = newACNode()
	for i, p := range ac.patterns {
		node := ac.root
		for _, ch := range p.Text {
			next := node.children[ch]
			if next == nil {
				next = newACNode()
				node.children[ch] = next
			}
			node = next
		}
		node.output = append(node.output, i)
	}

	// Breadth-first so every failure target is final before it is copied.
	queue := make([]*acNode, 0, len(ac.root.children))
	for _, child := range ac.root.children {
		child.failure = ac.root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != nil && fail.children[ch] == nil {
				fail = fail.failure
			}
			if fail == nil {
				child.failure = ac.root
				continue
			}
			child.failure = fail.children[ch]
			child.output = append(child.output, child.failure.output...)
		}
	}

	ac.built = true
}

// Search returns every match in text, including matches inside words.
func (ac *AhoCorasick) Search(text string) []Match {
	return ac.search(text, false, false)
}

// SearchWords returns matches bounded on both sides by a non-alphanumeric
// rune or the text edge.
func (ac *AhoCorasick) SearchWords(text string) []Match {
	return ac.search(text, true, false)
}

// ContainsWord reports whether any pattern occurs as a whole word.
func (ac *AhoCorasick) ContainsWord(text string) bool {
	return len(ac.search(text, true, true)) > 0
}

// Contains reports whether any pattern occurs anywhere in text.
func (ac *AhoCorasick) Contains(text string) bool {
	return len(ac.search(text, false, true)) > 0
}

func (ac *AhoCorasick) search(text string, wholeWord, firstOnly bool) []Match {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if !ac.built || len(ac.patterns) == 0 {
		return nil
	}

	lower := strings.ToLower(text)
	var matches []Match
	node := ac.root

	for i, ch := range lower {
		for node != ac.root && node.children[ch] == nil {
			node = node.failure
		}
		next := node.children[ch]
		if next == nil {
			continue
		}
		node = next

		end := i + utf8.RuneLen(ch)
		for _, idx := range node.output {
			p := ac.patterns[idx]
			start := end - len(p.Text)
			if wholeWord && !(isBoundary(lower, start-1, true) && isBoundary(lower, end, false)) {
				continue
			}
			matches = append(matches, Match{
				Pattern:  p.Text,
				Data:     p.Data,
				Position: start,
				End:      end,
			})
			if firstOnly {
				return matches
			}
		}
	}

	return matches
}

// isBoundary reports whether the rune adjacent to a match edge is absent or
// not a letter or digit. For the left edge, pos is the last byte before the
// match; for the right edge, pos is the first byte after it.
func isBoundary(text string, pos int, left bool) bool {
	if pos < 0 || pos >= len(text) {
		return true
	}
	var r rune
	if left {
		r, _ = utf8.DecodeLastRuneInString(text[:pos+1])
	} else {
		r, _ = utf8.DecodeRuneInString(text[pos:])
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// PatternCount returns the number of patterns added.
func (ac *AhoCorasick) PatternCount() int {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return len(ac.patterns)
}

// NewWordMatcher builds an automaton over patterns, all tagged with data.
func NewWordMatcher(patterns []string, data any) *AhoCorasick {
	ac := NewAhoCorasick()
	ac.AddPatterns(patterns, data)
	ac.Build()
	return ac
}
