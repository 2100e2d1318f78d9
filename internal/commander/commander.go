// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package commander drives the singleton supervisor AI session: one PTY
// running the external CLI, an ordered prompt queue, fleet-context
// injection from the outbox, and resume across daemon restarts.
package commander

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/olivier-motium/mimesis-sub002/internal/db"
	"github.com/olivier-motium/mimesis-sub002/internal/events"
	"github.com/olivier-motium/mimesis-sub002/internal/ptybridge"
)

// Commander states, mirrored from the store's status for the bound
// session.
const (
	StatusIdle         = "idle"
	StatusWorking      = "working"
	StatusWaitingInput = "waiting_for_input"
)

// Store is the slice of the database the commander needs.
type Store interface {
	LoadOrCreateConversation(kind, cwd, model string) (db.Conversation, error)
	SetConversationSessionID(conversationID, sessionID string) error
	SetConversationCursor(conversationID string, cursor int64) error
	ResetConversation(conversationID string) error
	OutboxAfter(cursor int64, max int) ([]db.OutboxEvent, error)
}

// PTYRunner is the slice of the PTY bridge the commander needs.
type PTYRunner interface {
	Create(ctx context.Context, spec ptybridge.Spec) (ptybridge.Info, error)
	Write(id string, data []byte) error
	Signal(id, sig string) error
	Stop(id string) error
}

// Config for the commander.
type Config struct {
	// CLI is the external AI command. Defaults to ["claude"].
	CLI []string
	// CWD the supervisor runs in.
	CWD string
	// Model recorded on the conversation.
	Model string
	// ProjectsRoot is where the CLI writes transcripts, normally
	// ~/.claude/projects. Session-id capture watches the encoded
	// subdirectory for this CWD.
	ProjectsRoot string
	// MaxPreludeEvents bounds one fleet prelude. Defaults to 50.
	MaxPreludeEvents int
}

// Commander is the singleton supervisor session manager.
type Commander struct {
	cfg   Config
	store Store
	ptys  PTYRunner
	bus   events.EventBus

	mu          sync.Mutex
	conv        db.Conversation
	ptyID       string
	ptyToken    string
	status      string
	queue       []string
	isDraining  bool
	isFirstTurn bool
	turns       int

	capture     *fsnotify.Watcher
	captureStop chan struct{}
	captureWG   sync.WaitGroup
}

// New loads the conversation record. When a session id was captured in a
// previous run the first prompt resumes it; the PTY is not spawned until
// then.
func New(cfg Config, store Store, ptys PTYRunner, bus events.EventBus) (*Commander, error) {
	if len(cfg.CLI) == 0 {
		cfg.CLI = []string{"claude"}
	}
	if cfg.MaxPreludeEvents <= 0 {
		cfg.MaxPreludeEvents = 50
	}
	conv, err := store.LoadOrCreateConversation(db.ConversationCommander, cfg.CWD, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("load commander conversation: %w", err)
	}
	c := &Commander{
		cfg:         cfg,
		store:       store,
		ptys:        ptys,
		bus:         bus,
		conv:        conv,
		status:      StatusIdle,
		isFirstTurn: conv.ClaudeSessionID == "",
	}
	if conv.ClaudeSessionID != "" {
		log.Printf("commander: will resume session %s on next prompt", conv.ClaudeSessionID)
	}
	return c, nil
}

// Status returns the current supervisor status.
func (c *Commander) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the captured external session id, if any.
func (c *Commander) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.ClaudeSessionID
}

// PTYID returns the live PTY id, empty when not spawned.
func (c *Commander) PTYID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ptyID
}

// QueueLen returns the number of queued prompts.
func (c *Commander) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// SendPrompt delivers a prompt to the supervisor. While the supervisor is
// working the prompt queues instead; the returned position is 1-based.
// Nothing is ever written to the PTY while status is working.
func (c *Commander) SendPrompt(prompt string) (queued bool, position int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensurePTYLocked(); err != nil {
		return false, 0, err
	}

	if c.status == StatusWorking {
		c.queue = append(c.queue, prompt)
		pos := len(c.queue)
		c.publish(events.EventCommanderQueued, map[string]interface{}{"position": pos})
		return true, pos, nil
	}

	if err := c.writePromptLocked(prompt); err != nil {
		return false, 0, err
	}
	return false, 0, nil
}

// UpdateStatus mirrors the store's status for the bound session. A
// transition out of working drains exactly one queued prompt.
func (c *Commander) UpdateStatus(status string) {
	c.mu.Lock()
	prev := c.status
	c.status = status
	shouldDrain := prev == StatusWorking &&
		(status == StatusWaitingInput || status == StatusIdle) &&
		len(c.queue) > 0 && !c.isDraining
	if shouldDrain {
		c.isDraining = true
	}
	c.mu.Unlock()

	if prev != status {
		c.publish(events.EventCommanderState, map[string]interface{}{"status": status})
	}
	if !shouldDrain {
		return
	}

	c.mu.Lock()
	defer func() {
		c.isDraining = false
		c.mu.Unlock()
	}()
	if len(c.queue) == 0 || c.status == StatusWorking {
		return
	}
	prompt := c.queue[0]
	c.queue = c.queue[1:]
	if err := c.writePromptLocked(prompt); err != nil {
		log.Printf("commander: drain failed: %v", err)
		// Put it back so the next transition retries.
		c.queue = append([]string{prompt}, c.queue...)
	}
}

// HandleExit is called by the PTY bridge's exit notification. The queue
// is kept; the next prompt respawns, resuming by id when captured.
func (c *Commander) HandleExit(ptyID string, code int, sig string) {
	c.mu.Lock()
	if ptyID != c.ptyID {
		c.mu.Unlock()
		return
	}
	c.ptyID = ""
	c.ptyToken = ""
	c.status = StatusIdle
	c.mu.Unlock()

	log.Printf("commander: child exited code=%d signal=%q, %d prompts queued", code, sig, c.QueueLen())
	c.publish(events.EventCommanderState, map[string]interface{}{"status": StatusIdle})
}

// Cancel interrupts the current turn.
func (c *Commander) Cancel() error {
	c.mu.Lock()
	ptyID := c.ptyID
	c.mu.Unlock()
	if ptyID == "" {
		return fmt.Errorf("commander not running")
	}
	return c.ptys.Signal(ptyID, "SIGINT")
}

// Reset tears the conversation down completely: capture watcher closed,
// PTY terminated, queue cleared, captured session id dropped.
func (c *Commander) Reset() error {
	c.mu.Lock()
	ptyID := c.ptyID
	c.ptyID = ""
	c.ptyToken = ""
	c.queue = nil
	c.status = StatusIdle
	c.isFirstTurn = true
	convID := c.conv.ConversationID
	c.conv.ClaudeSessionID = ""
	c.conv.LastOutboxEventIDSeen = 0
	c.mu.Unlock()

	c.stopCapture()
	if ptyID != "" {
		if err := c.ptys.Stop(ptyID); err != nil {
			log.Printf("commander: stop pty on reset: %v", err)
		}
	}
	if err := c.store.ResetConversation(convID); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	c.publish(events.EventCommanderState, map[string]interface{}{"status": StatusIdle})
	return nil
}

// Shutdown stops the capture watcher and the PTY without touching the
// conversation record.
func (c *Commander) Shutdown() {
	c.stopCapture()
	c.mu.Lock()
	ptyID := c.ptyID
	c.ptyID = ""
	c.mu.Unlock()
	if ptyID != "" {
		c.ptys.Stop(ptyID)
	}
}

// ensurePTYLocked spawns the CLI under a PTY if not already running.
// Caller holds the lock.
func (c *Commander) ensurePTYLocked() error {
	if c.ptyID != "" {
		return nil
	}

	command := append(append([]string{}, c.cfg.CLI...), "--dangerously-skip-permissions")
	if c.conv.ClaudeSessionID != "" {
		command = append(command, "--resume", c.conv.ClaudeSessionID)
	}
	info, err := c.ptys.Create(context.Background(), ptybridge.Spec{
		CWD:     c.cfg.CWD,
		Command: command,
	})
	if err != nil {
		return fmt.Errorf("spawn commander: %w", err)
	}
	c.ptyID = info.ID
	c.ptyToken = info.Token
	log.Printf("commander: spawned pid=%d pty=%s resume=%v", info.PID, info.ID, c.conv.ClaudeSessionID != "")

	if c.conv.ClaudeSessionID == "" {
		c.startCapture()
	}
	return nil
}

// writePromptLocked builds the fleet prelude and writes the prompt.
// Caller holds the lock and has verified status != working.
func (c *Commander) writePromptLocked(prompt string) error {
	prelude, err := BuildPrelude(c.store, c.conv.LastOutboxEventIDSeen, c.cfg.MaxPreludeEvents)
	if err != nil {
		log.Printf("commander: prelude build failed, sending bare prompt: %v", err)
		prelude = Prelude{NewCursor: c.conv.LastOutboxEventIDSeen}
	}

	var sb strings.Builder
	if c.isFirstTurn {
		sb.WriteString("<system-reminder>\n")
		sb.WriteString(prelude.SystemPrompt)
		if prelude.HasActivity() {
			sb.WriteString("\n\n")
			sb.WriteString(prelude.FleetDelta)
		}
		sb.WriteString("\n</system-reminder>\n\n")
	} else if prelude.HasActivity() {
		sb.WriteString("<system-reminder>\n")
		sb.WriteString(prelude.FleetDelta)
		sb.WriteString("\n</system-reminder>\n\n")
	}
	sb.WriteString(prompt)
	sb.WriteString("\n")

	if err := c.ptys.Write(c.ptyID, []byte(sb.String())); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}

	c.status = StatusWorking
	c.turns++
	c.isFirstTurn = false
	// The cursor commits at write time; outbox consumers deduplicate.
	if prelude.NewCursor > c.conv.LastOutboxEventIDSeen {
		c.conv.LastOutboxEventIDSeen = prelude.NewCursor
		if err := c.store.SetConversationCursor(c.conv.ConversationID, prelude.NewCursor); err != nil {
			log.Printf("commander: persist cursor: %v", err)
		}
	}
	c.publish(events.EventCommanderState, map[string]interface{}{"status": StatusWorking})
	return nil
}

func (c *Commander) publish(eventType string, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.Background(), events.Event{Type: eventType, Payload: payload})
}

// EncodeProjectDir maps a working directory to the CLI's transcript
// subdirectory name: "/" and "." both become "-".
func EncodeProjectDir(cwd string) string {
	return strings.NewReplacer("/", "-", ".", "-").Replace(cwd)
}

// startCapture begins watching the CLI's transcript directory for this
// CWD. The first new transcript file names the session; existing files
// are swept once, preferring the lexicographically greatest.
// Caller holds the lock.
func (c *Commander) startCapture() {
	if c.cfg.ProjectsRoot == "" || c.capture != nil {
		return
	}
	dir := filepath.Join(c.cfg.ProjectsRoot, EncodeProjectDir(c.cfg.CWD))
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("commander: create capture dir: %v", err)
		return
	}

	// Startup sweep: the CLI may already have written the transcript.
	if id := sweepSessionID(dir); id != "" {
		c.captureSessionLocked(id)
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("commander: capture watcher: %v", err)
		return
	}
	if err := w.Add(dir); err != nil {
		log.Printf("commander: watch %s: %v", dir, err)
		w.Close()
		return
	}
	c.capture = w
	c.captureStop = make(chan struct{})
	c.captureWG.Add(1)
	go c.captureLoop(w, c.captureStop)
}

func (c *Commander) captureLoop(w *fsnotify.Watcher, stop chan struct{}) {
	defer c.captureWG.Done()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) || filepath.Ext(ev.Name) != ".jsonl" {
				continue
			}
			base := filepath.Base(ev.Name)
			if strings.HasPrefix(base, "agent-") {
				continue
			}
			id := strings.TrimSuffix(base, ".jsonl")
			c.mu.Lock()
			c.captureSessionLocked(id)
			// Detach before closing so stopCapture never waits on the
			// goroutine doing the closing.
			if c.capture == w {
				c.capture = nil
				c.captureStop = nil
			}
			c.mu.Unlock()
			w.Close()
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("commander: capture watcher error: %v", err)
		}
	}
}

// captureSessionLocked persists the captured id. Caller holds the lock.
func (c *Commander) captureSessionLocked(id string) {
	if c.conv.ClaudeSessionID != "" {
		return
	}
	c.conv.ClaudeSessionID = id
	if err := c.store.SetConversationSessionID(c.conv.ConversationID, id); err != nil {
		log.Printf("commander: persist session id: %v", err)
	}
	log.Printf("commander: captured session id %s", id)
}

func (c *Commander) stopCapture() {
	c.mu.Lock()
	w := c.capture
	stop := c.captureStop
	c.capture = nil
	c.captureStop = nil
	c.mu.Unlock()

	if w == nil {
		return
	}
	close(stop)
	w.Close()
	c.captureWG.Wait()
}

// sweepSessionID picks the newest existing transcript in dir, by
// lexicographic order of the timestamp-prefixed filenames.
func sweepSessionID(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".jsonl" || strings.HasPrefix(name, "agent-") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return strings.TrimSuffix(names[len(names)-1], ".jsonl")
}
