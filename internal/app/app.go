// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the daemon together: config, database, event bus,
// session store, watcher, PTY bridge, commander, gateway, and the HTTP
// API, with ordered startup and shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/olivier-motium/mimesis-sub002/internal/api"
	"github.com/olivier-motium/mimesis-sub002/internal/commander"
	"github.com/olivier-motium/mimesis-sub002/internal/config"
	"github.com/olivier-motium/mimesis-sub002/internal/db"
	"github.com/olivier-motium/mimesis-sub002/internal/events"
	"github.com/olivier-motium/mimesis-sub002/internal/gateway"
	"github.com/olivier-motium/mimesis-sub002/internal/gitinfo"
	"github.com/olivier-motium/mimesis-sub002/internal/ptybridge"
	"github.com/olivier-motium/mimesis-sub002/internal/ringbuf"
	"github.com/olivier-motium/mimesis-sub002/internal/status"
	"github.com/olivier-motium/mimesis-sub002/internal/statusfile"
	"github.com/olivier-motium/mimesis-sub002/internal/store"
	"github.com/olivier-motium/mimesis-sub002/internal/watcher"
)

// Exit codes for the serve command.
const (
	ExitClean       = 0
	ExitConfigError = 1
	ExitPortInUse   = 2
)

// App is the main daemon container.
type App struct {
	cfg     *config.Config
	version string

	eventBus  events.EventBus
	database  *db.DB
	sessions  *store.Store
	rings     *ringbuf.Manager
	gitCache  *gitinfo.Cache
	ptys      *ptybridge.Manager
	cmdr      *commander.Commander
	watch     *watcher.TranscriptWatcher
	gw        *gateway.Gateway
	apiServer *api.Server
	streamSrv *api.Server
	ptySrv    *api.Server

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Version    string
}

// New loads configuration and creates the container. A config failure
// here maps to exit code 1.
func New(opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &App{
		cfg:     cfg,
		version: opts.Version,
		done:    make(chan struct{}),
	}, nil
}

// Initialize builds every component in dependency order.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.cfg

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	app.database = database

	app.eventBus = events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: 10000,
		HistoryMaxAge:    time.Hour,
	})

	app.sessions = store.New()
	app.rings = ringbuf.NewManager(0)
	app.gitCache = gitinfo.NewCache()

	app.ptys = ptybridge.NewManager(app.onPTYOutput, app.onPTYExit)

	cmdr, err := commander.New(commander.Config{
		CLI:          cfg.CommanderCLI,
		CWD:          cfg.CommanderCWD,
		Model:        cfg.CommanderModel,
		ProjectsRoot: cfg.ProjectsDir,
	}, database, app.ptys, app.eventBus)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}
	app.cmdr = cmdr

	w, err := watcher.New(watcher.Config{
		ProjectsDir: cfg.ProjectsDir,
		MaxAgeHours: cfg.MaxAgeHours,
		LinkedSession: func(cwd string) (string, bool) {
			return database.LinkedSessionForRepo(cwd)
		},
	}, app.eventBus, app.gitCache)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	app.watch = w

	app.gw = gateway.New(app.sessions, app.ptys, app.cmdr, app.rings, database, app.eventBus)

	app.bridgeEvents()

	router := api.NewRouter(api.Dependencies{
		Sessions:  app.sessions,
		Deleter:   app.watch,
		Briefings: database,
		EventBus:  app.eventBus,
		Version:   app.version,
	})
	app.apiServer = api.NewServer("http", cfg.Host, cfg.APIPort, router)
	app.streamSrv = api.NewServer("stream", cfg.Host, cfg.StreamPort, wsHandler(app.gw))
	app.ptySrv = api.NewServer("pty", cfg.Host, cfg.PTYPort, wsHandler(app.gw))

	return nil
}

// bridgeEvents connects the bus and the store: watcher events feed the
// session store, store changes feed the commander's status mirror.
func (app *App) bridgeEvents() {
	app.eventBus.Subscribe("session.*", func(_ context.Context, ev events.Event) error {
		switch ev.Type {
		case events.EventSessionCreated, events.EventSessionUpdated:
			state, ok := ev.Payload["state"].(watcher.SessionState)
			if !ok {
				return nil
			}
			app.sessions.AddFromWatcher(trackedFromWatcher(state))
		case events.EventSessionDeleted:
			app.sessions.Remove(ev.SessionID)
		case events.EventSessionFileStatus:
			fs, ok := ev.Payload["fileStatus"].(*statusfile.FileStatus)
			if !ok {
				return nil
			}
			app.sessions.UpdateFileStatus(ev.SessionID, storeFileStatus(fs))
		}
		return nil
	})

	// The commander mirrors the store status of its captured session.
	app.sessions.Subscribe(func(c store.Change) {
		if c.Kind == store.ChangeRemoved {
			return
		}
		bound := app.cmdr.SessionID()
		if bound == "" || c.SessionID != bound {
			return
		}
		app.cmdr.UpdateStatus(commanderStatus(c.Session.State))
	})
}

// trackedFromWatcher converts a watcher snapshot to a store record.
func trackedFromWatcher(s watcher.SessionState) store.TrackedSession {
	return store.TrackedSession{
		SessionID:      s.SessionID,
		CWD:            s.CWD,
		Status:         s.Status.Status,
		State:          s.Status.State,
		LastActivityAt: s.Status.LastActivityAt,
		CreatedAt:      s.StartedAt,
		GitBranch:      s.GitBranch,
		GitRepoURL:     s.GitRepoURL,
		GitRepoID:      s.GitRepoID,
		OriginalPrompt: s.OriginalPrompt,
		MessageCount:   s.Status.MessageCount,
	}
}

// storeFileStatus converts a parsed status.md to the store's shape.
func storeFileStatus(fs *statusfile.FileStatus) *store.FileStatus {
	if fs == nil {
		return nil
	}
	return &store.FileStatus{
		Status:    fs.Status,
		Task:      fs.Task,
		Summary:   fs.Summary,
		Blockers:  fs.Blockers,
		NextSteps: fs.NextSteps,
		UpdatedAt: fs.UpdatedAt(),
	}
}

// commanderStatus collapses the four derived states to the commander's
// three. A pending approval still counts as working; the supervisor runs
// with permissions skipped so it should not linger there.
func commanderStatus(s status.State) string {
	switch s {
	case status.StateWaitingInput:
		return commander.StatusWaitingInput
	case status.StateIdle:
		return commander.StatusIdle
	}
	return commander.StatusWorking
}

// onPTYOutput fans child output out: commander PTY bytes become
// commander.output events, session PTY bytes flow through the ring
// buffer to attached clients.
func (app *App) onPTYOutput(ptyID string, data []byte) {
	if ptyID == app.cmdr.PTYID() {
		app.eventBus.Publish(context.Background(), events.Event{
			Type:    events.EventCommanderOutput,
			Payload: map[string]interface{}{"data": string(data)},
		})
		return
	}
	for _, sess := range app.sessions.Snapshot() {
		if sess.PTYID == ptyID {
			app.gw.PTYOutput(sess.SessionID, ptyID, data)
			return
		}
	}
	// Output for a PTY nothing tracks yet still lands in a ring keyed by
	// the PTY id, so an attach right after create misses nothing.
	app.gw.PTYOutput(ptyID, ptyID, data)
}

func (app *App) onPTYExit(ptyID string, code int, sig string) {
	app.cmdr.HandleExit(ptyID, code, sig)
	app.gw.PTYExit(ptyID, code, sig)
	app.eventBus.Publish(context.Background(), events.Event{
		Type: events.EventPTYExit,
		Payload: map[string]interface{}{
			"ptyId":  ptyID,
			"code":   code,
			"signal": sig,
		},
	})
}

// wsHandler serves the gateway protocol on any path.
func wsHandler(gw *gateway.Gateway) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.HandleWS(w, r)
	})
}

// Start launches the listeners and the watcher. Bind failures surface
// ErrPortInUse for exit code 2.
func (app *App) Start(ctx context.Context) error {
	if err := app.gw.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	if err := app.watch.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	var g errgroup.Group
	for _, srv := range []*api.Server{app.apiServer, app.streamSrv, app.ptySrv} {
		g.Go(srv.Start)
	}
	return g.Wait()
}

// Run initializes, starts, and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		app.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down", sig)
	case <-ctx.Done():
		log.Printf("context cancelled, shutting down")
	case <-app.done:
		log.Printf("shutdown requested")
	}

	return app.Shutdown(context.Background())
}

// Shutdown tears components down in reverse order: listeners first, then
// the watcher and commander, then PTY children, then the database.
func (app *App) Shutdown(ctx context.Context) error {
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, srv := range []*api.Server{app.apiServer, app.streamSrv, app.ptySrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown listener: %v", err)
		}
	}
	if app.gw != nil {
		app.gw.Shutdown()
	}
	if app.watch != nil {
		app.watch.Close()
	}
	if app.cmdr != nil {
		app.cmdr.Shutdown()
	}
	if app.ptys != nil {
		app.ptys.Shutdown()
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}
	if app.database != nil {
		app.database.Close()
	}

	log.Println("shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}

// ExitCode maps a Run error to the daemon's exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitClean
	case errors.Is(err, api.ErrPortInUse):
		return ExitPortInUse
	}
	return ExitConfigError
}
