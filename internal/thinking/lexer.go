// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package thinking segments model output into visible text and thinking
// blocks.
//
// Reasoning models wrap chain-of-thought in paired tags, and more than one
// tag dialect is in circulation. The lexer walks the text once with an
// explicit open/inside state per recognized pair, so "stream ended inside an
// unclosed block" is a first-class state (Closed=false on the final segment)
// instead of a regex corner case.
package thinking

import "strings"

// =============================================================================
// SEGMENT TYPES
// =============================================================================

// Kind discriminates segment types.
type Kind int

const (
	// KindText is visible output.
	KindText Kind = iota

	// KindThought is chain-of-thought wrapped in a recognized tag pair.
	KindThought
)

// Segment is one contiguous span of model output.
type Segment struct {
	Kind Kind

	// Body is the span's content with the delimiting tags removed.
	Body string

	// Closed is false only for a trailing thought whose closing tag never
	// arrived. Text segments are always closed.
	Closed bool
}

// tagPair is one recognized open/close delimiter pair.
type tagPair struct {
	open  string
	close string
}

// Recognized dialects, lowercase forms only. Tags include the closing ">",
// so "<thinking>" can never be matched as "<think>".
var tagPairs = []tagPair{
	{"<thinking>", "</thinking>"},
	{"<thought>", "</thought>"},
	{"<think>", "</think>"},
}

// =============================================================================
// LEXER
// =============================================================================

// Lex splits text into an ordered sequence of text and thought segments.
// Input with no recognized tags yields a single text segment. Tags of one
// pair appearing inside another pair's block are treated as literal body.
func Lex(text string) []Segment {
	var segments []Segment
	rest := text

	for len(rest) > 0 {
		idx, pair := nextOpen(rest)
		if idx < 0 {
			segments = append(segments, Segment{Kind: KindText, Body: rest, Closed: true})
			break
		}

		if idx > 0 {
			segments = append(segments, Segment{Kind: KindText, Body: rest[:idx], Closed: true})
		}
		rest = rest[idx+len(pair.open):]

		end := strings.Index(rest, pair.close)
		if end < 0 {
			// Unterminated block: everything that follows is thought.
			segments = append(segments, Segment{Kind: KindThought, Body: rest, Closed: false})
			break
		}

		segments = append(segments, Segment{Kind: KindThought, Body: rest[:end], Closed: true})
		rest = rest[end+len(pair.close):]
	}

	return segments
}

// nextOpen finds the earliest open tag in s. Returns -1 when none occurs.
func nextOpen(s string) (int, tagPair) {
	best := -1
	var bestPair tagPair
	for _, pair := range tagPairs {
		idx := strings.Index(s, pair.open)
		if idx < 0 {
			continue
		}
		if best < 0 || idx < best {
			best = idx
			bestPair = pair
		}
	}
	return best, bestPair
}

// OpenThought reports whether text ends inside an unclosed thinking block.
// The engine uses this to suppress the cancellation marker: appending it
// inside an open block would corrupt the paired-tag structure the view
// relies on.
func OpenThought(text string) bool {
	segments := Lex(text)
	if len(segments) == 0 {
		return false
	}
	last := segments[len(segments)-1]
	return last.Kind == KindThought && !last.Closed
}

// Strip returns only the visible text, with all thought segments removed.
func Strip(text string) string {
	segments := Lex(text)
	var b strings.Builder
	for _, seg := range segments {
		if seg.Kind == KindText {
			b.WriteString(seg.Body)
		}
	}
	return b.String()
}
