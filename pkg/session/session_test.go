package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivorynet/scriptdbg/pkg/config"
	"github.com/aivorynet/scriptdbg/pkg/debugger"
	"github.com/aivorynet/scriptdbg/pkg/transport"
)

type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// host answers every request successfully and records request types.
type host struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []string
	ready    chan struct{}
	once     sync.Once
	writeMu  sync.Mutex
}

func newHost(t *testing.T) *host {
	h := &host{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conn = conn
		h.mu.Unlock()
		h.once.Do(func() { close(h.ready) })

		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			h.mu.Lock()
			h.requests = append(h.requests, msg.Type)
			h.mu.Unlock()
			if msg.ID != "" {
				h.send(envelope{Type: "response", ID: msg.ID, Payload: json.RawMessage(`{"ok":true}`)})
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *host) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *host) send(msg envelope) {
	<-h.ready
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.WriteJSON(msg)
}

func (h *host) received(msgType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.requests {
		if r == msgType {
			return true
		}
	}
	return false
}

type ui struct {
	mu     sync.Mutex
	remote []bool
}

func (u *ui) SetRemoteMode(active bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remote = append(u.remote, active)
}

func (u *ui) OpenFile(path string) error { return nil }

func (u *ui) modes() []bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]bool(nil), u.remote...)
}

func newSession(t *testing.T, url string) (*Session, *ui) {
	t.Helper()
	cfg, err := config.New(
		config.WithHostURL(url),
		config.WithAPIKey("test-key"),
		config.WithRequestTimeout(time.Second),
	)
	require.NoError(t, err)
	cfg.MaxReconnectAttempts = 0
	cfg.TempDir = t.TempDir()

	u := &ui{}
	return New(cfg, u), u
}

func TestStartFailsWithoutHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s, _ := newSession(t, url)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to")
	assert.NoError(t, s.Stop())
}

func TestStartStop(t *testing.T) {
	h := newHost(t)
	s, _ := newSession(t, h.url())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, transport.LocalRunspaceID, s.Controller().Runspace().ID())

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestHostRunspacePushAndPop(t *testing.T) {
	h := newHost(t)
	s, u := newSession(t, h.url())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	h.send(envelope{Type: "runspacePushed", Payload: json.RawMessage(`{"runspace":"rs-2","computer_name":"server02"}`)})
	assert.Eventually(t, func() bool {
		rs := s.Controller().Runspace()
		return rs != nil && rs.ID() == "rs-2"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return h.received("runspace.subscribe") }, 5*time.Second, 10*time.Millisecond)

	h.send(envelope{Type: "runspacePopped"})
	assert.Eventually(t, func() bool { return len(u.modes()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []bool{true, false}, u.modes())
	assert.Equal(t, transport.LocalRunspaceID, s.Controller().Runspace().ID())
}

func TestStopLeavesRemoteRunspace(t *testing.T) {
	h := newHost(t)
	s, u := newSession(t, h.url())
	require.NoError(t, s.Start(context.Background()))

	remoteRS := s.connection.Runspace("rs-3", "server03")
	require.NoError(t, s.PushRunspace(context.Background(), remoteRS))
	assert.Equal(t, "rs-3", s.Controller().Runspace().ID())

	require.NoError(t, s.Stop())
	assert.Equal(t, []bool{true, false}, u.modes())
	assert.True(t, h.received("runspace.unsubscribe"))
}

func waitFinished(t *testing.T, finished <-chan struct{}) {
	t.Helper()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("debugging never finished")
	}
}

func TestStopWhilePausedReleasesDebuggee(t *testing.T) {
	h := newHost(t)
	s, _ := newSession(t, h.url())
	require.NoError(t, s.Start(context.Background()))

	finished := make(chan struct{}, 1)
	s.Controller().AddListener(debugger.ListenerFuncs{
		OnDebuggingFinished: func() { finished <- struct{}{} },
	})
	h.send(envelope{Type: "debuggerStop", Payload: json.RawMessage(`{"file":"/s.ps1","line":1}`)})
	assert.Eventually(t, s.Controller().AwaitingCommand, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.True(t, h.received("executeDebuggingCommand"))
	assert.False(t, h.received("stop"))
	waitFinished(t, finished)
}

func TestStopWhileRunningStopsHost(t *testing.T) {
	h := newHost(t)
	s, _ := newSession(t, h.url())
	require.NoError(t, s.Start(context.Background()))

	finished := make(chan struct{}, 1)
	s.Controller().AddListener(debugger.ListenerFuncs{
		OnDebuggingFinished: func() { finished <- struct{}{} },
	})
	s.Controller().Execute("Start-Sleep 600")
	require.Equal(t, debugger.StateRunning, s.Controller().State())

	require.NoError(t, s.Stop())
	assert.True(t, h.received("stop"))
	assert.False(t, h.received("executeDebuggingCommand"))
	waitFinished(t, finished)
}
