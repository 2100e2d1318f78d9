// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis-sub002/internal/status"
)

func watcherSession(id string) TrackedSession {
	return TrackedSession{
		SessionID:      id,
		CWD:            "/home/u/proj",
		Status:         status.UIWorking,
		State:          status.StateWorking,
		LastActivityAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		MessageCount:   1,
	}
}

func TestDiscoveredThenUpdated(t *testing.T) {
	s := New()
	var kinds []ChangeKind
	s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	s.AddFromWatcher(watcherSession("a"))

	sess := watcherSession("a")
	sess.MessageCount = 2
	s.AddFromWatcher(sess)

	// No change, no notification.
	s.AddFromWatcher(sess)

	assert.Equal(t, []ChangeKind{ChangeDiscovered, ChangeUpdated}, kinds)
}

func TestRemoveEmittedOnce(t *testing.T) {
	s := New()
	var kinds []ChangeKind
	s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	s.AddFromWatcher(watcherSession("a"))
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))

	assert.Equal(t, []ChangeKind{ChangeDiscovered, ChangeRemoved}, kinds)
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestPTYSourceDominates(t *testing.T) {
	s := New()
	s.AddFromWatcher(watcherSession("a"))
	s.AddFromPTY("a", "pty-1", "/elsewhere", 4242)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, SourcePTY, got.Source)
	assert.Equal(t, 4242, got.PID)
	// Watcher metadata survives.
	assert.Equal(t, "/home/u/proj", got.CWD)

	// A later watcher update must not reclaim the source.
	sess := watcherSession("a")
	sess.MessageCount = 5
	s.AddFromWatcher(sess)
	got, _ = s.Get("a")
	assert.Equal(t, SourcePTY, got.Source)
	assert.Equal(t, 5, got.MessageCount)
}

func TestUpdateFileStatusMapsToUI(t *testing.T) {
	s := New()
	s.AddFromWatcher(watcherSession("a"))

	s.UpdateFileStatus("a", &FileStatus{Status: "blocked"})
	got, _ := s.Get("a")
	assert.Equal(t, status.UIWaiting, got.Status)

	s.UpdateFileStatus("a", &FileStatus{Status: "completed"})
	got, _ = s.Get("a")
	assert.Equal(t, status.UIIdle, got.Status)

	// Unknown session is a no-op.
	s.UpdateFileStatus("ghost", &FileStatus{Status: "working"})
	_, ok := s.Get("ghost")
	assert.False(t, ok)
}

// A nil update clears a previously attached file status so a stale
// status.md cannot pin the session's waiting mapping forever.
func TestUpdateFileStatusNilClears(t *testing.T) {
	s := New()
	s.AddFromWatcher(watcherSession("a"))

	s.UpdateFileStatus("a", &FileStatus{Status: "blocked"})
	got, _ := s.Get("a")
	require.NotNil(t, got.FileStatus)

	s.UpdateFileStatus("a", nil)
	got, _ = s.Get("a")
	assert.Nil(t, got.FileStatus)
}

func TestUpdateStatus(t *testing.T) {
	s := New()
	s.AddFromWatcher(watcherSession("a"))

	later := time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC)
	s.UpdateStatus("a", status.Result{
		Status:         status.UIWaiting,
		State:          status.StateWaitingInput,
		LastActivityAt: later,
		MessageCount:   3,
	})

	got, _ := s.Get("a")
	assert.Equal(t, status.UIWaiting, got.Status)
	assert.Equal(t, later, got.LastActivityAt)
	assert.Equal(t, 3, got.MessageCount)

	// Unknown ids ignored.
	s.UpdateStatus("ghost", status.Result{Status: status.UIWorking})
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	s := New()
	s.Subscribe(func(c Change) { panic("boom") })
	called := false
	s.Subscribe(func(c Change) { called = true })

	s.AddFromWatcher(watcherSession("a"))
	assert.True(t, called)
}

func TestSnapshotOrdering(t *testing.T) {
	s := New()
	a := watcherSession("a")
	b := watcherSession("b")
	b.LastActivityAt = a.LastActivityAt.Add(time.Minute)
	s.AddFromWatcher(a)
	s.AddFromWatcher(b)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].SessionID)
	assert.Equal(t, "a", snap[1].SessionID)
}
