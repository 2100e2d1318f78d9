// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ptybridge spawns child processes under pseudo-terminals and
// relays their byte streams. The gateway attaches clients; output reaches
// them through a sink callback so the bridge never knows about sockets.
package ptybridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
)

var (
	ErrNotFound = errors.New("pty not found")
	ErrBadToken = errors.New("bad attach token")
	ErrDead     = errors.New("pty is dead")
)

// IdleTimeout after which a clientless PTY is torn down.
const IdleTimeout = 30 * time.Minute

const sweepInterval = time.Minute

// Spec describes the child process to spawn.
type Spec struct {
	CWD     string
	Command []string
	Env     []string
	Cols    uint16
	Rows    uint16
}

// Info is returned from Create. Token is one-shot: the first successful
// Attach consumes it.
type Info struct {
	ID    string
	PID   int
	Token string
}

// Sink receives child output verbatim.
type Sink func(ptyID string, data []byte)

// ExitFunc is called when the child exits, before the PTY is destroyed.
type ExitFunc func(ptyID string, code int, signal string)

type ptyProc struct {
	id     string
	pid    int
	cmd    *exec.Cmd
	master *os.File

	mu           sync.Mutex
	token        string
	clients      int
	lastActivity time.Time
	dead         bool
}

// Manager owns all live PTYs.
type Manager struct {
	mu     sync.Mutex
	ptys   map[string]*ptyProc
	sink   Sink
	onExit ExitFunc

	closeCh chan struct{}
	closed  bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewManager creates a manager and starts the idle sweeper.
func NewManager(sink Sink, onExit ExitFunc) *Manager {
	m := &Manager{
		ptys:    make(map[string]*ptyProc),
		sink:    sink,
		onExit:  onExit,
		closeCh: make(chan struct{}),
		now:     time.Now,
	}
	m.wg.Add(1)
	go m.sweepLoop()
	return m
}

// Create spawns the child under a new PTY and starts its reader.
func (m *Manager) Create(ctx context.Context, spec Spec) (Info, error) {
	if len(spec.Command) == 0 {
		return Info{}, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.CWD
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return Info{}, fmt.Errorf("start pty: %w", err)
	}

	p := &ptyProc{
		id:           uuid.New().String(),
		pid:          cmd.Process.Pid,
		cmd:          cmd,
		master:       master,
		token:        uuid.New().String(),
		lastActivity: m.now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		master.Close()
		cmd.Process.Kill()
		return Info{}, fmt.Errorf("manager is shut down")
	}
	m.ptys[p.id] = p
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(p)

	log.Printf("ptybridge: created %s pid=%d cwd=%s", p.id, p.pid, spec.CWD)
	return Info{ID: p.id, PID: p.pid, Token: p.token}, nil
}

// readLoop broadcasts child output until the master closes, then reaps the
// child and reports its exit.
func (m *Manager) readLoop(p *ptyProc) {
	defer m.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.lastActivity = m.now()
			p.mu.Unlock()
			if m.sink != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				m.sink(p.id, data)
			}
		}
		if err != nil {
			break
		}
	}

	code := 0
	sig := ""
	if err := p.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				sig = ws.Signal().String()
			}
		} else {
			code = -1
		}
	}

	p.mu.Lock()
	p.dead = true
	p.mu.Unlock()

	log.Printf("ptybridge: %s exited code=%d signal=%q", p.id, code, sig)
	if m.onExit != nil {
		m.onExit(p.id, code, sig)
	}
	m.destroy(p.id)
}

func (m *Manager) get(id string) (*ptyProc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ptys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Write sends client input to the child. A write failure on a dead master
// is terminal for the PTY.
func (m *Manager) Write(id string, data []byte) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return ErrDead
	}
	p.lastActivity = m.now()
	p.mu.Unlock()

	if _, err := p.master.Write(data); err != nil {
		m.Stop(id)
		return fmt.Errorf("write to pty %s: %w", id, err)
	}
	return nil
}

// Resize changes the PTY window size.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if err := pty.Setsize(p.master, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize pty %s: %w", id, err)
	}
	return nil
}

// Signal delivers SIGINT, SIGTERM, or SIGKILL to the child.
func (m *Manager) Signal(id, sig string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	var s syscall.Signal
	switch sig {
	case "SIGINT":
		s = syscall.SIGINT
	case "SIGTERM":
		s = syscall.SIGTERM
	case "SIGKILL":
		s = syscall.SIGKILL
	default:
		return fmt.Errorf("unsupported signal %q", sig)
	}
	if err := p.cmd.Process.Signal(s); err != nil {
		return fmt.Errorf("signal pty %s: %w", id, err)
	}
	return nil
}

// Stop terminates the child and destroys the PTY. The reader observes the
// closed master and reports the exit.
func (m *Manager) Stop(id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	p.cmd.Process.Signal(syscall.SIGTERM)
	p.master.Close()
	return nil
}

// Attach validates and consumes the one-shot token, registering a client.
func (m *Manager) Attach(id, token string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" || token != p.token {
		return ErrBadToken
	}
	p.token = ""
	p.clients++
	p.lastActivity = m.now()
	return nil
}

// Detach unregisters a client.
func (m *Manager) Detach(id string) {
	p, err := m.get(id)
	if err != nil {
		return
	}
	p.mu.Lock()
	if p.clients > 0 {
		p.clients--
	}
	p.lastActivity = m.now()
	p.mu.Unlock()
}

// PID returns the child pid.
func (m *Manager) PID(id string) (int, error) {
	p, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return p.pid, nil
}

func (m *Manager) destroy(id string) {
	m.mu.Lock()
	p, ok := m.ptys[id]
	if ok {
		delete(m.ptys, id)
	}
	m.mu.Unlock()
	if ok {
		p.master.Close()
	}
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle tears down PTYs with no clients and no recent activity.
func (m *Manager) sweepIdle() {
	now := m.now()

	m.mu.Lock()
	var stale []string
	for id, p := range m.ptys {
		p.mu.Lock()
		if p.clients == 0 && now.Sub(p.lastActivity) > IdleTimeout {
			stale = append(stale, id)
		}
		p.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range stale {
		log.Printf("ptybridge: sweeping idle pty %s", id)
		m.Stop(id)
	}
}

// ShutdownTimeout bounds the SIGTERM grace period.
const ShutdownTimeout = 5 * time.Second

// Shutdown SIGTERMs every child, polls liveness until the grace period
// runs out, then SIGKILLs stragglers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	pids := make(map[string]int, len(m.ptys))
	for id, p := range m.ptys {
		pids[id] = p.pid
		p.cmd.Process.Signal(syscall.SIGTERM)
	}
	m.mu.Unlock()

	deadline := time.Now().Add(ShutdownTimeout)
	for time.Now().Before(deadline) && len(pids) > 0 {
		for id, pid := range pids {
			proc, err := ps.FindProcess(pid)
			if err != nil || proc == nil {
				delete(pids, id)
			}
		}
		if len(pids) == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	m.mu.Lock()
	for id := range pids {
		if p, ok := m.ptys[id]; ok {
			log.Printf("ptybridge: SIGKILL pid=%d after shutdown grace", p.pid)
			p.cmd.Process.Kill()
		}
	}
	remaining := make([]*ptyProc, 0, len(m.ptys))
	for _, p := range m.ptys {
		remaining = append(remaining, p)
	}
	m.mu.Unlock()

	for _, p := range remaining {
		p.master.Close()
	}

	close(m.closeCh)
	m.wg.Wait()
}
