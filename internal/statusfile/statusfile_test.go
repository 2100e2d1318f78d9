// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package statusfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStatusMD(t *testing.T, cwd, content string) {
	t.Helper()
	dir := filepath.Join(cwd, ".claude")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status.md"), []byte(content), 0644))
}

func TestReadStatusFile(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	cwd := t.TempDir()
	writeStatusMD(t, cwd, `---
status: waiting_for_approval
updated: 2026-01-02T09:58:00Z
task: migrate schema
blockers:
  - needs review
---
Waiting on approval for the migration.
`)

	fs := ReadStatusFile(cwd, now)
	require.NotNil(t, fs)
	assert.Equal(t, "waiting_for_approval", fs.Status)
	assert.Equal(t, "migrate schema", fs.Task)
	assert.Equal(t, []string{"needs review"}, fs.Blockers)
}

func TestReadStatusFileStale(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	cwd := t.TempDir()
	writeStatusMD(t, cwd, `---
status: working
updated: 2026-01-02T09:50:00Z
---
`)
	assert.Nil(t, ReadStatusFile(cwd, now))
}

func TestReadStatusFileMissingOrMalformed(t *testing.T) {
	now := time.Now()
	assert.Nil(t, ReadStatusFile(t.TempDir(), now))

	cwd := t.TempDir()
	writeStatusMD(t, cwd, "no frontmatter here")
	assert.Nil(t, ReadStatusFile(cwd, now))

	cwd = t.TempDir()
	writeStatusMD(t, cwd, "---\n: : bad yaml [\n---\n")
	assert.Nil(t, ReadStatusFile(cwd, now))
}

func TestBriefingRoundTrip(t *testing.T) {
	b := &Briefing{
		Schema:       SchemaV5,
		ProjectID:    "proj-1",
		RepoName:     "mimesis",
		Branch:       "feat/orchestrator",
		SessionID:    "sess-9",
		TaskID:       "task-42",
		Status:       "completed",
		StartedAt:    "2026-01-02T09:00:00Z",
		EndedAt:      "2026-01-02T10:00:00Z",
		ImpactLevel:  "moderate",
		DocDriftRisk: "low",
		BaseCommit:   "abc123",
		HeadCommit:   "def456",
		Blockers:     []string{"flaky CI"},
		NextSteps:    []string{"merge", "deploy"},
		FilesTouched: []string{"internal/db/db.go"},
		Body:         "# Summary\n\nMigrated the schema.\n",
	}

	data, err := b.Generate()
	require.NoError(t, err)

	parsed := ParseBriefing(data)
	require.NotNil(t, parsed)
	assert.Equal(t, b, parsed)
}

func TestParseBriefingInlineArrays(t *testing.T) {
	doc := `---
schema: status.v5
project_id: proj-1
status: completed
ended_at: 2026-01-02T10:00:00Z
blockers: []
next_steps: [merge, deploy]
---
Done.
`
	b := ParseBriefing([]byte(doc))
	require.NotNil(t, b)
	assert.Equal(t, []string{"merge", "deploy"}, b.NextSteps)
	assert.Empty(t, b.Blockers)
	assert.Equal(t, "Done.\n", b.Body)
}

func TestParseBriefingRejects(t *testing.T) {
	assert.Nil(t, ParseBriefing([]byte("just markdown")))
	assert.Nil(t, ParseBriefing([]byte("---\nschema: status.v4\nstatus: done\n---\n")))
	assert.Nil(t, ParseBriefing([]byte("---\nschema: status.v5\n---\n")))
}

func TestFindCompactionMarkers(t *testing.T) {
	cwd := t.TempDir()
	dir := filepath.Join(cwd, ".claude")
	require.NoError(t, os.MkdirAll(dir, 0755))

	good := filepath.Join(dir, "compacted.sess-new.marker")
	require.NoError(t, os.WriteFile(good, []byte(`{"newSessionId":"sess-new","cwd":"`+cwd+`","compactedAt":"2026-01-02T10:00:00Z"}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "compacted.bad.marker"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status.md"), []byte("x"), 0644))

	markers := FindCompactionMarkers(cwd)
	require.Len(t, markers, 1)
	assert.Equal(t, "sess-new", markers[0].NewSessionID)
	assert.Equal(t, good, markers[0].Path)
}

func TestFindCompactionMarkersNoDir(t *testing.T) {
	assert.Nil(t, FindCompactionMarkers(t.TempDir()))
}
