// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package statusfile reads the cooperative status artifacts sessions leave
// in their working directory: status.md files, status.v5 completion
// briefings, and compaction markers.
package statusfile

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TTL after which a status.md is treated as absent.
const TTL = 5 * time.Minute

// FileStatus is the parsed frontmatter of <cwd>/.claude/status.md.
type FileStatus struct {
	Status    string   `yaml:"status"`
	Updated   string   `yaml:"updated"`
	Task      string   `yaml:"task,omitempty"`
	Summary   string   `yaml:"summary,omitempty"`
	Blockers  []string `yaml:"blockers,omitempty"`
	NextSteps []string `yaml:"next_steps,omitempty"`
}

// UpdatedAt parses the frontmatter timestamp; zero when unparseable.
func (f *FileStatus) UpdatedAt() time.Time {
	ts, err := time.Parse(time.RFC3339, f.Updated)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// ReadStatusFile parses <cwd>/.claude/status.md. Returns nil when the file
// is missing, malformed, or older than TTL.
func ReadStatusFile(cwd string, now time.Time) *FileStatus {
	data, err := os.ReadFile(filepath.Join(cwd, ".claude", "status.md"))
	if err != nil {
		return nil
	}
	front, _, ok := splitFrontmatter(data)
	if !ok {
		return nil
	}
	var fs FileStatus
	if yaml.Unmarshal(front, &fs) != nil || fs.Status == "" {
		return nil
	}
	updated := fs.UpdatedAt()
	if updated.IsZero() || now.Sub(updated) > TTL {
		return nil
	}
	return &fs
}

var frontmatterDelim = []byte("---")

// splitFrontmatter separates a "--- yaml ---" header from the markdown
// body. The body has its single leading newline stripped.
func splitFrontmatter(data []byte) (front, body []byte, ok bool) {
	rest, found := bytes.CutPrefix(data, frontmatterDelim)
	if !found {
		return nil, nil, false
	}
	rest, found = bytes.CutPrefix(rest, []byte("\n"))
	if !found {
		return nil, nil, false
	}
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, nil, false
	}
	front = rest[:end+1]
	body = rest[end+len("\n---"):]
	body = bytes.TrimPrefix(body, []byte("\n"))
	return front, body, true
}
