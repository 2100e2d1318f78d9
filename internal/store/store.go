// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store tracks the merged fleet of sessions seen by the watcher
// and the PTY bridge. It is the source of truth for UI snapshots.
package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/olivier-motium/mimesis-sub002/internal/status"
)

// Source says which subsystem discovered the session. A PTY-origin session
// keeps source=pty even when the watcher later sees its transcript.
type Source string

const (
	SourceWatcher Source = "watcher"
	SourcePTY     Source = "pty"
)

// FileStatus is the session's cooperative status from status.md.
type FileStatus struct {
	Status    string    `json:"status"`
	Task      string    `json:"task,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Blockers  []string  `json:"blockers,omitempty"`
	NextSteps []string  `json:"nextSteps,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TrackedSession is the union of watcher and PTY data for one session.
type TrackedSession struct {
	SessionID      string          `json:"sessionId"`
	ProjectID      string          `json:"projectId,omitempty"`
	CWD            string          `json:"cwd,omitempty"`
	Status         status.UIStatus `json:"status"`
	State          status.State    `json:"state"`
	Source         Source          `json:"source"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	GitBranch      string          `json:"gitBranch,omitempty"`
	GitRepoURL     string          `json:"gitRepoUrl,omitempty"`
	GitRepoID      string          `json:"gitRepoId,omitempty"`
	OriginalPrompt string          `json:"originalPrompt,omitempty"`
	FileStatus     *FileStatus     `json:"fileStatus,omitempty"`
	PID            int             `json:"pid,omitempty"`
	PTYID          string          `json:"ptyId,omitempty"`
	MessageCount   int             `json:"messageCount"`
}

// ChangeKind for listener notifications.
type ChangeKind string

const (
	ChangeDiscovered ChangeKind = "discovered"
	ChangeUpdated    ChangeKind = "updated"
	ChangeRemoved    ChangeKind = "removed"
)

// Change is delivered synchronously to listeners. Session is a snapshot;
// listeners must not mutate it.
type Change struct {
	Kind      ChangeKind
	SessionID string
	Session   TrackedSession
	// Updates names the fields that changed, for ChangeUpdated.
	Updates []string
}

// Listener receives store changes. A panicking listener does not prevent
// the remaining listeners from running.
type Listener func(Change)

// Store is the in-memory session map. Mutators are serialized; listeners
// run under the same serialization so snapshots are consistent.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*TrackedSession
	listeners []Listener
}

func New() *Store {
	return &Store{sessions: make(map[string]*TrackedSession)}
}

// Subscribe registers a synchronous listener for all future changes.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(c Change) {
	for _, l := range s.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("store: listener panic for %s %s: %v", c.Kind, c.SessionID, r)
				}
			}()
			l(c)
		}()
	}
}

// AddFromWatcher creates or updates a session from transcript data. An
// existing PTY-origin session keeps its source, createdAt, projectId, pid,
// and fileStatus.
func (s *Store) AddFromWatcher(sess TrackedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sess.SessionID]
	if !ok {
		sess.Source = SourceWatcher
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = time.Now()
		}
		s.sessions[sess.SessionID] = &sess
		s.notify(Change{Kind: ChangeDiscovered, SessionID: sess.SessionID, Session: sess})
		return
	}

	var updates []string
	if existing.Status != sess.Status || existing.State != sess.State {
		existing.Status = sess.Status
		existing.State = sess.State
		updates = append(updates, "status")
	}
	if existing.MessageCount != sess.MessageCount {
		existing.MessageCount = sess.MessageCount
		updates = append(updates, "messageCount")
	}
	if !sess.LastActivityAt.IsZero() && !existing.LastActivityAt.Equal(sess.LastActivityAt) {
		existing.LastActivityAt = sess.LastActivityAt
		updates = append(updates, "lastActivityAt")
	}
	if sess.CWD != "" && existing.CWD != sess.CWD {
		existing.CWD = sess.CWD
		updates = append(updates, "cwd")
	}
	if sess.GitBranch != "" && existing.GitBranch != sess.GitBranch {
		existing.GitBranch = sess.GitBranch
		updates = append(updates, "gitBranch")
	}
	if sess.GitRepoURL != "" && existing.GitRepoURL != sess.GitRepoURL {
		existing.GitRepoURL = sess.GitRepoURL
		existing.GitRepoID = sess.GitRepoID
		updates = append(updates, "gitRepoUrl")
	}
	if sess.OriginalPrompt != "" && existing.OriginalPrompt == "" {
		existing.OriginalPrompt = sess.OriginalPrompt
		updates = append(updates, "originalPrompt")
	}
	if len(updates) == 0 {
		return
	}
	s.notify(Change{Kind: ChangeUpdated, SessionID: sess.SessionID, Session: *existing, Updates: updates})
}

// AddFromPTY registers a PTY-spawned session. PTY origin dominates: the
// source flips to pty but watcher-origin metadata is preserved.
func (s *Store) AddFromPTY(sessionID, ptyID, cwd string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		sess := TrackedSession{
			SessionID: sessionID,
			CWD:       cwd,
			Status:    status.UIWorking,
			State:     status.StateWorking,
			Source:    SourcePTY,
			CreatedAt: time.Now(),
			PID:       pid,
			PTYID:     ptyID,
		}
		s.sessions[sessionID] = &sess
		s.notify(Change{Kind: ChangeDiscovered, SessionID: sessionID, Session: sess})
		return
	}

	existing.Source = SourcePTY
	existing.PID = pid
	existing.PTYID = ptyID
	if existing.CWD == "" {
		existing.CWD = cwd
	}
	s.notify(Change{Kind: ChangeUpdated, SessionID: sessionID, Session: *existing, Updates: []string{"source", "pid"}})
}

// fileStatusToUI maps a status.md status to the three-valued UI status.
func fileStatusToUI(fs string) (status.UIStatus, bool) {
	switch fs {
	case "waiting_for_approval", "waiting_for_input", "blocked":
		return status.UIWaiting, true
	case "working":
		return status.UIWorking, true
	case "completed", "error", "idle":
		return status.UIIdle, true
	}
	return "", false
}

// UpdateFileStatus attaches a status.md snapshot to a session. No-op for
// unknown sessions. Passing nil clears the file status without touching
// the derived status.
func (s *Store) UpdateFileStatus(sessionID string, fs *FileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	existing.FileStatus = fs
	updates := []string{"fileStatus"}
	if fs != nil {
		if ui, ok := fileStatusToUI(fs.Status); ok && existing.Status != ui {
			existing.Status = ui
			updates = append(updates, "status")
		}
	}
	s.notify(Change{Kind: ChangeUpdated, SessionID: sessionID, Session: *existing, Updates: updates})
}

// UpdateStatus refreshes a session's derived status. Unknown ids ignored.
func (s *Store) UpdateStatus(sessionID string, res status.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	var updates []string
	if existing.Status != res.Status || existing.State != res.State {
		existing.Status = res.Status
		existing.State = res.State
		updates = append(updates, "status")
	}
	if !res.LastActivityAt.IsZero() {
		existing.LastActivityAt = res.LastActivityAt
		updates = append(updates, "lastActivityAt")
	}
	if existing.MessageCount != res.MessageCount {
		existing.MessageCount = res.MessageCount
		updates = append(updates, "messageCount")
	}
	if len(updates) == 0 {
		return
	}
	s.notify(Change{Kind: ChangeUpdated, SessionID: sessionID, Session: *existing, Updates: updates})
}

// Remove drops a session. The removed notification fires exactly once.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	delete(s.sessions, sessionID)
	s.notify(Change{Kind: ChangeRemoved, SessionID: sessionID, Session: *existing})
	return true
}

// Get returns a snapshot of one session.
func (s *Store) Get(sessionID string) (TrackedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[sessionID]
	if !ok {
		return TrackedSession{}, false
	}
	return *existing, true
}

// Snapshot returns all sessions ordered by last activity, newest first.
func (s *Store) Snapshot() []TrackedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TrackedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}
