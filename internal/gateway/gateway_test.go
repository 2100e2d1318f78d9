// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis-sub002/internal/ptybridge"
	"github.com/olivier-motium/mimesis-sub002/internal/ringbuf"
	"github.com/olivier-motium/mimesis-sub002/internal/store"
)

// fakeWS captures writes instead of touching a socket.
type fakeWS struct {
	mu     sync.Mutex
	writes []interface{}
}

func (f *fakeWS) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v)
	return nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeWS) message(i int) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[i].(map[string]interface{})
}

func (f *fakeWS) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.count() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, got %d", n, f.count())
}

type fakeSessions struct {
	sessions map[string]store.TrackedSession
}

func (f *fakeSessions) Snapshot() []store.TrackedSession {
	out := make([]store.TrackedSession, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeSessions) Get(id string) (store.TrackedSession, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

type fakeBridge struct {
	mu        sync.Mutex
	attachErr error
	writeErr  error
	attached  []string
	written   [][]byte
	detached  []string
}

func (f *fakeBridge) Attach(id, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = append(f.attached, id)
	return nil
}

func (f *fakeBridge) Detach(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, id)
}

func (f *fakeBridge) Write(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeBridge) Resize(id string, cols, rows uint16) error { return nil }
func (f *fakeBridge) Signal(id, sig string) error               { return nil }

func newTestGateway(sessions *fakeSessions, bridge *fakeBridge) *Gateway {
	return New(sessions, bridge, nil, ringbuf.NewManager(0), nil, nil)
}

// testClient builds a registered client backed by a fakeWS with its
// writer running.
func testClient(t *testing.T, g *Gateway) (*client, *fakeWS) {
	t.Helper()
	ws := &fakeWS{}
	c := newClient(ws)
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
	go c.writeLoop()
	t.Cleanup(c.close)
	return c, ws
}

// Every cell of the routing table.
func TestShouldDeliver(t *testing.T) {
	withSub := NewConnState()
	withSub.SessionSubs["s1"] = struct{}{}

	sessionScoped := withSub
	sessionScoped.Scope = ScopeSession

	observer := NewConnState()
	observer.Scope = ScopeObserver

	global := NewConnState()

	fleetOn := NewConnState()
	fleetOn.Scope = ScopeObserver
	fleetOn.FleetSubscribed = true

	tests := []struct {
		name     string
		state    ConnState
		category Category
		session  string
		want     bool
	}{
		{"lifecycle/global", global, CategoryLifecycle, "", true},
		{"lifecycle/session", sessionScoped, CategoryLifecycle, "", true},
		{"lifecycle/observer", observer, CategoryLifecycle, "", true},
		{"session/global", global, CategorySession, "s1", true},
		{"session/subscribed", sessionScoped, CategorySession, "s1", true},
		{"session/not-subscribed", sessionScoped, CategorySession, "s2", false},
		{"session/observer", observer, CategorySession, "s1", false},
		{"commander/global", global, CategoryCommander, "", true},
		{"commander/session", sessionScoped, CategoryCommander, "", true},
		{"commander/observer", observer, CategoryCommander, "", false},
		{"fleet/off", global, CategoryFleet, "", false},
		{"fleet/on-observer", fleetOn, CategoryFleet, "", true},
		{"direct/never-routed", global, CategoryDirect, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldDeliver(tc.state, tc.category, tc.session))
		})
	}
}

// A full queue drops the oldest message and the client is warned once.
func TestBackpressureDropsOldest(t *testing.T) {
	ws := &fakeWS{}
	c := newClient(ws)
	defer c.close()

	// Fill past capacity before the writer starts.
	for i := 0; i < sendQueueCap+10; i++ {
		c.enqueue(map[string]interface{}{"type": "event", "seq": uint64(i + 1)})
	}
	go c.writeLoop()

	// One warning plus the surviving messages.
	ws.waitFor(t, sendQueueCap+1)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, sendQueueCap+1, ws.count())

	first := ws.message(0)
	assert.Equal(t, "warning", first["type"])
	assert.Equal(t, "backpressure", first["reason"])

	// The oldest 10 were evicted: delivery starts at seq 11.
	second := ws.message(1)
	assert.Equal(t, uint64(11), second["seq"])
	last := ws.message(ws.count() - 1)
	assert.Equal(t, uint64(sendQueueCap+10), last["seq"])
}

func TestBroadcastHonorsRouting(t *testing.T) {
	g := newTestGateway(&fakeSessions{}, &fakeBridge{})

	_, globalWS := testClient(t, g)

	observerC, observerWS := testClient(t, g)
	observerC.setScope(ScopeObserver)

	subscribedC, subscribedWS := testClient(t, g)
	subscribedC.setScope(ScopeSession)
	subscribedC.subscribeSession("s1")

	g.broadcast(CategorySession, "s1", map[string]interface{}{"type": "session.status"})
	globalWS.waitFor(t, 1)
	subscribedWS.waitFor(t, 1)
	assert.Equal(t, 0, observerWS.count())

	g.broadcast(CategorySession, "s2", map[string]interface{}{"type": "session.status"})
	globalWS.waitFor(t, 2)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, subscribedWS.count())
}

func TestDispatchSessionsList(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]store.TrackedSession{
		"s1": {SessionID: "s1"},
	}}
	g := newTestGateway(sessions, &fakeBridge{})
	c, ws := testClient(t, g)

	g.dispatch(c, inboundMessage{Type: "sessions.list"})
	ws.waitFor(t, 1)
	assert.Equal(t, "sessions.snapshot", ws.message(0)["type"])
}

func TestDispatchBadRequests(t *testing.T) {
	g := newTestGateway(&fakeSessions{}, &fakeBridge{})
	c, ws := testClient(t, g)

	g.dispatch(c, inboundMessage{Type: "set_scope", Scope: "galactic"})
	g.dispatch(c, inboundMessage{Type: "subscribe"})
	g.dispatch(c, inboundMessage{Type: "no.such.type"})
	ws.waitFor(t, 3)
	for i := 0; i < 3; i++ {
		msg := ws.message(i)
		assert.Equal(t, "error", msg["type"])
		assert.Equal(t, ErrCodeBadRequest, msg["code"])
	}
}

// Attach validates the token, replays the ring buffer from the cursor,
// then acks.
func TestPTYAttachReplaysRing(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]store.TrackedSession{
		"s1": {SessionID: "s1", PTYID: "pty-1"},
	}}
	bridge := &fakeBridge{}
	g := newTestGateway(sessions, bridge)

	g.rings.Push("s1", []byte("one"))
	g.rings.Push("s1", []byte("two"))
	g.rings.Push("s1", []byte("three"))

	c, ws := testClient(t, g)
	g.dispatch(c, inboundMessage{Type: "pty.attach", SessionID: "s1", Token: "tok", FromSeq: 1})

	ws.waitFor(t, 3)
	assert.Equal(t, uint64(2), ws.message(0)["seq"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("two")), ws.message(0)["data"])
	assert.Equal(t, uint64(3), ws.message(1)["seq"])
	assert.Equal(t, "pty.attached", ws.message(2)["type"])
	assert.True(t, c.isAttached("pty-1"))
}

func TestPTYAttachErrorCodes(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]store.TrackedSession{
		"s1": {SessionID: "s1", PTYID: "pty-1"},
	}}
	bridge := &fakeBridge{attachErr: ptybridge.ErrBadToken}
	g := newTestGateway(sessions, bridge)
	c, ws := testClient(t, g)

	g.dispatch(c, inboundMessage{Type: "pty.attach", SessionID: "ghost", Token: "t"})
	g.dispatch(c, inboundMessage{Type: "pty.attach", SessionID: "s1", Token: "wrong"})
	ws.waitFor(t, 2)
	assert.Equal(t, ErrCodeNotFound, ws.message(0)["code"])
	assert.Equal(t, ErrCodeBadToken, ws.message(1)["code"])
}

// Input requires a prior attach on the same connection and decodes
// base64 before writing.
func TestPTYInput(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]store.TrackedSession{
		"s1": {SessionID: "s1", PTYID: "pty-1"},
	}}
	bridge := &fakeBridge{}
	g := newTestGateway(sessions, bridge)
	c, ws := testClient(t, g)

	payload := base64.StdEncoding.EncodeToString([]byte("ls\n"))
	g.dispatch(c, inboundMessage{Type: "pty.input", SessionID: "s1", Bytes: payload})
	ws.waitFor(t, 1)
	assert.Equal(t, ErrCodeBadState, ws.message(0)["code"])

	g.dispatch(c, inboundMessage{Type: "pty.attach", SessionID: "s1", Token: "tok"})
	g.dispatch(c, inboundMessage{Type: "pty.input", SessionID: "s1", Bytes: payload})
	ws.waitFor(t, 2)

	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	require.Len(t, bridge.written, 1)
	assert.Equal(t, []byte("ls\n"), bridge.written[0])
}

// Live PTY output reaches attached connections only.
func TestPTYOutputRoutesToAttached(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]store.TrackedSession{
		"s1": {SessionID: "s1", PTYID: "pty-1"},
	}}
	g := newTestGateway(sessions, &fakeBridge{})

	attachedC, attachedWS := testClient(t, g)
	attachedC.attachPTY("pty-1")
	_, otherWS := testClient(t, g)

	g.PTYOutput("s1", "pty-1", []byte("hello"))
	attachedWS.waitFor(t, 1)
	assert.Equal(t, uint64(1), attachedWS.message(0)["seq"])
	assert.Equal(t, 0, otherWS.count())

	g.PTYExit("pty-1", 0, "")
	attachedWS.waitFor(t, 2)
	assert.Equal(t, "exit", attachedWS.message(1)["type"])
	assert.False(t, attachedC.isAttached("pty-1"))
	assert.Equal(t, 0, otherWS.count())
}
