// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchType(t *testing.T) {
	tests := []struct {
		eventType string
		pattern   string
		want      bool
	}{
		{"session.created", "session.created", true},
		{"session.created", "session.*", true},
		{"session.filestatus", "session.*", true},
		{"commander.state", "session.*", false},
		{"store.removed", "*.removed", true},
		{"session.created", "*.removed", false},
		{"anything.at.all", "*", true},
		{"session.created", "", false},
		{"", "session.*", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchType(tt.eventType, tt.pattern),
			"MatchType(%q, %q)", tt.eventType, tt.pattern)
	}
}

func TestCompilePattern(t *testing.T) {
	compiled, err := CompilePattern("commander.*")
	require.NoError(t, err)
	assert.True(t, compiled.Match("commander.queued"))
	assert.False(t, compiled.Match("session.created"))

	_, err = CompilePattern("")
	assert.Error(t, err)

	// The zero Pattern matches nothing.
	assert.False(t, Pattern{}.Match("session.created"))
}
