// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CompactionMarker is written by a session that continued another session's
// work after context compaction.
type CompactionMarker struct {
	NewSessionID string    `json:"newSessionId"`
	CWD          string    `json:"cwd"`
	CompactedAt  time.Time `json:"compactedAt"`

	// Path of the marker file, so the caller can delete it after handling.
	Path string `json:"-"`
}

const (
	markerPrefix = "compacted."
	markerSuffix = ".marker"
)

// FindCompactionMarkers scans <cwd>/.claude for compacted.<id>.marker files
// and parses each. Malformed markers are skipped.
func FindCompactionMarkers(cwd string) []CompactionMarker {
	dir := filepath.Join(cwd, ".claude")
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var markers []CompactionMarker
	for _, de := range names {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, markerPrefix) || !strings.HasSuffix(name, markerSuffix) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m CompactionMarker
		if json.Unmarshal(data, &m) != nil || m.NewSessionID == "" {
			continue
		}
		m.Path = path
		markers = append(markers, m)
	}
	return markers
}
