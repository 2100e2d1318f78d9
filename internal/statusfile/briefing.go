// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package statusfile

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// SchemaV5 is the only briefing schema this daemon accepts.
const SchemaV5 = "status.v5"

// Briefing is a status.v5 completion report: YAML frontmatter plus a
// markdown body. Timestamps stay as strings so generate/parse round-trips
// preserve the author's formatting.
type Briefing struct {
	Schema         string   `yaml:"schema"`
	ProjectID      string   `yaml:"project_id,omitempty"`
	RepoName       string   `yaml:"repo_name,omitempty"`
	RepoRoot       string   `yaml:"repo_root,omitempty"`
	GitRemote      string   `yaml:"git_remote,omitempty"`
	Branch         string   `yaml:"branch,omitempty"`
	SessionID      string   `yaml:"session_id,omitempty"`
	TaskID         string   `yaml:"task_id,omitempty"`
	Status         string   `yaml:"status"`
	StartedAt      string   `yaml:"started_at,omitempty"`
	EndedAt        string   `yaml:"ended_at,omitempty"`
	ImpactLevel    string   `yaml:"impact_level,omitempty"`
	BroadcastLevel string   `yaml:"broadcast_level,omitempty"`
	DocDriftRisk   string   `yaml:"doc_drift_risk,omitempty"`
	BaseCommit     string   `yaml:"base_commit,omitempty"`
	HeadCommit     string   `yaml:"head_commit,omitempty"`
	Blockers       []string `yaml:"blockers,omitempty"`
	NextSteps      []string `yaml:"next_steps,omitempty"`
	DocsTouched    []string `yaml:"docs_touched,omitempty"`
	FilesTouched   []string `yaml:"files_touched,omitempty"`

	Body string `yaml:"-"`
}

// ParseBriefing parses status.v5 markdown. Returns nil for anything that is
// not a well-formed status.v5 document; parse failures never propagate to
// the watcher.
func ParseBriefing(data []byte) *Briefing {
	front, body, ok := splitFrontmatter(data)
	if !ok {
		return nil
	}
	var b Briefing
	if yaml.Unmarshal(front, &b) != nil {
		return nil
	}
	if b.Schema != SchemaV5 || b.Status == "" {
		return nil
	}
	b.Body = string(body)
	return &b
}

// Generate renders the briefing back to status.v5 markdown.
func (b *Briefing) Generate() ([]byte, error) {
	front, err := yaml.Marshal(b)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n")
	buf.WriteString(b.Body)
	return buf.Bytes(), nil
}
