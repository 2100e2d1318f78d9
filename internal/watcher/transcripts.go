// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher tails the external CLI's transcript directory and owns
// the per-session parse state.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/olivier-motium/mimesis-sub002/internal/events"
	"github.com/olivier-motium/mimesis-sub002/internal/gitinfo"
	"github.com/olivier-motium/mimesis-sub002/internal/status"
	"github.com/olivier-motium/mimesis-sub002/internal/statusfile"
	"github.com/olivier-motium/mimesis-sub002/internal/transcript"
)

// SessionState is the watcher's per-session record. Entries hold the
// suffix of the file's chronological entries; BytePosition is exactly the
// offset up to which they were consumed. The bootstrap metadata fields are
// set at first parse and never re-derived from the trimmed entry list.
type SessionState struct {
	SessionID      string
	Filepath       string
	BytePosition   int64
	EncodedDir     string
	CWD            string
	GitBranch      string
	GitRepoURL     string
	GitRepoID      string
	OriginalPrompt string
	StartedAt      time.Time
	Entries        []transcript.Entry
	Status         status.Result

	// hasFileStatus remembers that a status.md snapshot was published, so
	// its disappearance (or TTL expiry) publishes a clearing event once.
	hasFileStatus bool
}

// Config for the transcript watcher.
type Config struct {
	// ProjectsDir is the external CLI's transcript root, one subdirectory
	// per encoded working directory.
	ProjectsDir string
	// Debounce window per file. Defaults to 200ms.
	Debounce time.Duration
	// MaxEntries caps each session's retained entry suffix. Defaults to 500.
	MaxEntries int
	// MaxAgeHours filters out transcripts older than this during the
	// initial scan. Defaults to 24; negative disables the filter.
	MaxAgeHours int

	// LinkedSession resolves a working directory to the session id of a
	// non-stale terminal link, used to pick compaction predecessors.
	// Optional.
	LinkedSession func(cwd string) (string, bool)
}

const (
	defaultMaxEntries  = 500
	defaultMaxAgeHours = 24

	// compactionDedupe ignores repeated markers for the same successor.
	compactionDedupe = 60 * time.Second

	// rederiveInterval re-runs the status timers without file activity.
	rederiveInterval = 30 * time.Second
)

// TranscriptWatcher watches the projects directory and emits
// session.created/updated/deleted plus filestatus and compaction events on
// the bus.
type TranscriptWatcher struct {
	cfg Config
	bus events.EventBus
	git *gitinfo.Cache

	fsw *fsnotify.Watcher
	deb *Debouncer

	mu          sync.Mutex
	sessions    map[string]*SessionState
	pathToID    map[string]string
	compactions map[string]time.Time

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a transcript watcher. Call Start to begin processing.
func New(cfg Config, bus events.EventBus, git *gitinfo.Cache) (*TranscriptWatcher, error) {
	if cfg.ProjectsDir == "" {
		return nil, fmt.Errorf("projects dir not set")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.MaxAgeHours == 0 {
		cfg.MaxAgeHours = defaultMaxAgeHours
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &TranscriptWatcher{
		cfg:         cfg,
		bus:         bus,
		git:         git,
		fsw:         fsw,
		deb:         NewDebouncer(cfg.Debounce),
		sessions:    make(map[string]*SessionState),
		pathToID:    make(map[string]string),
		compactions: make(map[string]time.Time),
		closeCh:     make(chan struct{}),
		now:         time.Now,
	}, nil
}

// Start scans existing transcripts, registers directory watches, and
// launches the dispatch loop.
func (w *TranscriptWatcher) Start() error {
	if err := w.fsw.Add(w.cfg.ProjectsDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.ProjectsDir, err)
	}

	var horizon time.Time
	if w.cfg.MaxAgeHours > 0 {
		horizon = w.now().Add(-time.Duration(w.cfg.MaxAgeHours) * time.Hour)
	}

	err := filepath.WalkDir(w.cfg.ProjectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.cfg.ProjectsDir {
				if err := w.fsw.Add(path); err != nil {
					log.Printf("watcher: watch %s: %v", path, err)
				}
			}
			return nil
		}
		if filepath.Ext(path) != ".jsonl" || transcript.IsAgentTranscript(path) {
			return nil
		}
		if !horizon.IsZero() {
			if info, err := d.Info(); err == nil && info.ModTime().Before(horizon) {
				return nil
			}
		}
		w.processFile(path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.cfg.ProjectsDir, err)
	}

	w.wg.Add(1)
	go w.dispatchLoop()
	w.wg.Add(1)
	go w.rederiveLoop()
	return nil
}

// Close stops the watcher. Pending debounced handlers are dropped.
func (w *TranscriptWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.closeCh)
	w.deb.Stop()
	w.fsw.Close()
	w.wg.Wait()
	return nil
}

func (w *TranscriptWatcher) dispatchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: fsnotify error: %v", err)
		}
	}
}

func (w *TranscriptWatcher) handleFSEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				log.Printf("watcher: watch %s: %v", ev.Name, err)
			}
			return
		}
	}
	if filepath.Ext(ev.Name) != ".jsonl" || transcript.IsAgentTranscript(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.removeByPath(ev.Name)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		path := ev.Name
		w.deb.Debounce(path, func() { w.processFile(path) })
	}
}

// processFile tails one transcript and refreshes the session state. It is
// serialized per filepath by the debouncer.
func (w *TranscriptWatcher) processFile(path string) {
	sessionID := transcript.SessionIDFromPath(path)

	w.mu.Lock()
	var fromByte int64
	var knownCWD string
	existed := false
	if s, ok := w.sessions[sessionID]; ok {
		existed = true
		fromByte = s.BytePosition
		knownCWD = s.CWD
	}
	w.mu.Unlock()

	entries, newByte, err := transcript.Tail(path, fromByte)
	if err != nil {
		// The file can disappear between the event and the read. Tail
		// wraps the underlying error, so unwrap when checking.
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("watcher: tail %s: %v", path, err)
		}
		return
	}

	// Metadata and git probes stay outside the lock; the probe can block.
	var meta *transcript.Metadata
	if knownCWD == "" {
		meta = transcript.ExtractMetadata(entries)
		if meta != nil {
			knownCWD = meta.CWD
		}
	}
	var git gitinfo.Info
	haveGit := false
	if knownCWD != "" && w.git != nil {
		git, haveGit = w.git.Lookup(context.Background(), knownCWD)
	}

	now := w.now()

	w.mu.Lock()
	state, ok := w.sessions[sessionID]
	if !ok {
		state = &SessionState{
			SessionID:  sessionID,
			Filepath:   path,
			EncodedDir: filepath.Base(filepath.Dir(path)),
		}
		w.sessions[sessionID] = state
		w.pathToID[path] = sessionID
	}
	if meta != nil && state.CWD == "" {
		state.CWD = meta.CWD
		state.GitBranch = meta.GitBranch
		if state.OriginalPrompt == "" {
			state.OriginalPrompt = meta.OriginalPrompt
		}
		if state.StartedAt.IsZero() {
			state.StartedAt = meta.StartedAt
		}
	}
	if haveGit && state.GitRepoURL == "" {
		if state.GitBranch == "" {
			state.GitBranch = git.Branch
		}
		state.GitRepoURL = git.RepoURL
		state.GitRepoID = git.RepoID
	}
	state.Entries = append(state.Entries, entries...)
	if len(state.Entries) > w.cfg.MaxEntries {
		state.Entries = state.Entries[len(state.Entries)-w.cfg.MaxEntries:]
	}
	state.BytePosition = newByte
	prev := state.Status
	state.Status = status.Derive(state.Entries, now)
	snapshot := *state
	w.mu.Unlock()

	if !existed {
		w.publish(events.EventSessionCreated, sessionID, snapshot)
	} else if prev.Status != snapshot.Status.Status || prev.State != snapshot.Status.State ||
		prev.MessageCount != snapshot.Status.MessageCount {
		w.publish(events.EventSessionUpdated, sessionID, snapshot)
	}

	w.refreshFileArtifacts(snapshot)
}

// refreshFileArtifacts reads status.md and compaction markers for the
// session's working directory. An absent or expired status.md is treated
// as absent: one clearing event (nil fileStatus) follows a previously
// published snapshot.
func (w *TranscriptWatcher) refreshFileArtifacts(state SessionState) {
	if state.CWD == "" {
		return
	}
	now := w.now()

	fstatus := statusfile.ReadStatusFile(state.CWD, now)

	w.mu.Lock()
	s, tracked := w.sessions[state.SessionID]
	hadStatus := tracked && s.hasFileStatus
	if tracked {
		s.hasFileStatus = fstatus != nil
	}
	w.mu.Unlock()

	if fstatus != nil || hadStatus {
		w.bus.Publish(context.Background(), events.Event{
			Type:      events.EventSessionFileStatus,
			SessionID: state.SessionID,
			Payload: map[string]interface{}{
				"fileStatus": fstatus,
			},
		})
	}

	for _, marker := range statusfile.FindCompactionMarkers(state.CWD) {
		w.handleCompaction(marker, now)
	}
}

func (w *TranscriptWatcher) handleCompaction(marker statusfile.CompactionMarker, now time.Time) {
	w.mu.Lock()
	if last, ok := w.compactions[marker.NewSessionID]; ok && now.Sub(last) < compactionDedupe {
		w.mu.Unlock()
		os.Remove(marker.Path)
		return
	}
	w.compactions[marker.NewSessionID] = now
	predecessor := w.predecessorLocked(marker)
	w.mu.Unlock()

	w.bus.Publish(context.Background(), events.Event{
		Type:      events.EventSessionCompacted,
		SessionID: marker.NewSessionID,
		Payload: map[string]interface{}{
			"newSessionId": marker.NewSessionID,
			"cwd":          marker.CWD,
			"compactedAt":  marker.CompactedAt,
			"predecessor":  predecessor,
		},
	})
	if err := os.Remove(marker.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("watcher: remove marker %s: %v", marker.Path, err)
	}
}

// predecessorLocked picks the session the new one continues: a linked
// session in the same cwd when available, otherwise the most recently
// active one. Caller holds the lock.
func (w *TranscriptWatcher) predecessorLocked(marker statusfile.CompactionMarker) string {
	if w.cfg.LinkedSession != nil {
		if id, ok := w.cfg.LinkedSession(marker.CWD); ok && id != marker.NewSessionID {
			if _, tracked := w.sessions[id]; tracked {
				return id
			}
		}
	}
	var best string
	var bestAt time.Time
	for id, s := range w.sessions {
		if id == marker.NewSessionID || s.CWD != marker.CWD {
			continue
		}
		if s.Status.LastActivityAt.After(bestAt) {
			best = id
			bestAt = s.Status.LastActivityAt
		}
	}
	return best
}

// rederiveLoop re-applies the status timers so sessions decay to waiting
// and idle without new file events.
func (w *TranscriptWatcher) rederiveLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(rederiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.closeCh:
			return
		case <-ticker.C:
			w.rederiveAll()
		}
	}
}

func (w *TranscriptWatcher) rederiveAll() {
	now := w.now()

	w.mu.Lock()
	var changed []SessionState
	for _, s := range w.sessions {
		next := status.Derive(s.Entries, now)
		if next.Status != s.Status.Status || next.State != s.Status.State {
			s.Status = next
			changed = append(changed, *s)
		}
	}
	w.mu.Unlock()

	for _, snapshot := range changed {
		w.publish(events.EventSessionUpdated, snapshot.SessionID, snapshot)
	}
}

func (w *TranscriptWatcher) removeByPath(path string) {
	w.mu.Lock()
	sessionID, ok := w.pathToID[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pathToID, path)
	delete(w.sessions, sessionID)
	w.mu.Unlock()

	w.deb.Cancel(path)
	w.bus.Publish(context.Background(), events.Event{
		Type:      events.EventSessionDeleted,
		SessionID: sessionID,
		Payload:   map[string]interface{}{},
	})
}

// DeleteSession removes a session and unlinks its transcript file.
func (w *TranscriptWatcher) DeleteSession(sessionID string) error {
	w.mu.Lock()
	state, ok := w.sessions[sessionID]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("session %s not tracked", sessionID)
	}
	delete(w.sessions, sessionID)
	delete(w.pathToID, state.Filepath)
	path := state.Filepath
	w.mu.Unlock()

	w.deb.Cancel(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink transcript: %w", err)
	}
	w.bus.Publish(context.Background(), events.Event{
		Type:      events.EventSessionDeleted,
		SessionID: sessionID,
		Payload:   map[string]interface{}{},
	})
	return nil
}

// Get returns a snapshot of one session's state.
func (w *TranscriptWatcher) Get(sessionID string) (SessionState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[sessionID]
	if !ok {
		return SessionState{}, false
	}
	return *s, true
}

// Sessions returns a snapshot of all tracked sessions.
func (w *TranscriptWatcher) Sessions() []SessionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]SessionState, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, *s)
	}
	return out
}

func (w *TranscriptWatcher) publish(eventType, sessionID string, snapshot SessionState) {
	w.bus.Publish(context.Background(), events.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"state": snapshot,
		},
	})
}
