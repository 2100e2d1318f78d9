// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Pattern is a pre-parsed subscription pattern. The zero value matches
// nothing. Supported forms:
//
//	"session.created"  exact type
//	"session.*"        any type under the session prefix
//	"*.removed"        any type with the removed suffix
//	"*"                every type
type Pattern struct {
	kind patternKind
	text string
}

type patternKind int

const (
	patternNone patternKind = iota
	patternAll
	patternExact
	patternPrefix
	patternSuffix
)

// CompilePattern parses a pattern string once so Match is a plain string
// comparison afterward.
func CompilePattern(pattern string) (Pattern, error) {
	switch {
	case pattern == "":
		return Pattern{}, errors.New("empty pattern")
	case pattern == "*":
		return Pattern{kind: patternAll}, nil
	case strings.HasSuffix(pattern, ".*"):
		return Pattern{kind: patternPrefix, text: strings.TrimSuffix(pattern, "*")}, nil
	case strings.HasPrefix(pattern, "*."):
		return Pattern{kind: patternSuffix, text: strings.TrimPrefix(pattern, "*")}, nil
	}
	return Pattern{kind: patternExact, text: pattern}, nil
}

// Match reports whether an event type falls under the pattern.
func (p Pattern) Match(eventType string) bool {
	if eventType == "" {
		return false
	}
	switch p.kind {
	case patternAll:
		return true
	case patternExact:
		return eventType == p.text
	case patternPrefix:
		return strings.HasPrefix(eventType, p.text)
	case patternSuffix:
		return strings.HasSuffix(eventType, p.text)
	}
	return false
}

// MatchType is the one-shot form for callers without a compiled pattern.
func MatchType(eventType, pattern string) bool {
	p, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return p.Match(eventType)
}
