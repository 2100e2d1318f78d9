// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	rest, err := splitCommand(nil)
	require.NoError(t, err)
	assert.Empty(t, rest)

	rest, err = splitCommand([]string{"serve"})
	require.NoError(t, err)
	assert.Empty(t, rest)

	rest, err = splitCommand([]string{"serve", "-c", "/tmp/conf.hjson"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-c", "/tmp/conf.hjson"}, rest)

	rest, err = splitCommand([]string{"-version"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-version"}, rest)

	_, err = splitCommand([]string{"launch"})
	assert.Error(t, err)
}
