package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivorynet/scriptdbg/pkg/program"
	"github.com/aivorynet/scriptdbg/pkg/runspace"
)

type holder struct {
	rs     runspace.Runspace
	output []string
}

func (h *holder) Runspace() runspace.Runspace     { return h.rs }
func (h *holder) SetRunspace(rs runspace.Runspace) { h.rs = rs }
func (h *holder) Output(text string)               { h.output = append(h.output, text) }

type ui struct {
	remote  []bool
	opened  []string
	openErr error
}

func (u *ui) SetRemoteMode(active bool) { u.remote = append(u.remote, active) }

func (u *ui) OpenFile(path string) error {
	u.opened = append(u.opened, path)
	return u.openErr
}

type pipeline struct {
	rs *fakeRunspace
}

func (p *pipeline) Invoke(ctx context.Context, command string, params map[string]interface{}) error {
	p.rs.mu.Lock()
	defer p.rs.mu.Unlock()
	p.rs.scripts = append(p.rs.scripts, command)
	return p.rs.invokeErr
}

func (p *pipeline) Close() error { return nil }

type subscription struct {
	rs *fakeRunspace
}

func (s *subscription) Unsubscribe() error {
	s.rs.mu.Lock()
	defer s.rs.mu.Unlock()
	s.rs.handler = nil
	return nil
}

type fakeRunspace struct {
	id        string
	mu        sync.Mutex
	mode      runspace.DebugMode
	scripts   []string
	invokeErr error
	source    string
	handler   runspace.EventHandler
}

func (r *fakeRunspace) ID() string           { return r.id }
func (r *fakeRunspace) ComputerName() string { return r.id + "-host" }

func (r *fakeRunspace) SetDebugMode(ctx context.Context, mode runspace.DebugMode) error {
	r.mode = mode
	return nil
}

func (r *fakeRunspace) NewPipeline(ctx context.Context) (runspace.Pipeline, error) {
	return &pipeline{rs: r}, nil
}

func (r *fakeRunspace) Subscribe(source string, h runspace.EventHandler) (runspace.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = source
	r.handler = h
	return &subscription{rs: r}, nil
}

func (r *fakeRunspace) raise(ev runspace.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func newTestManager(t *testing.T) (*Manager, *holder, *ui, *fakeRunspace) {
	local := &fakeRunspace{id: "local"}
	h := &holder{rs: local}
	u := &ui{}
	return NewManager(h, u, program.DefaultDialect(), t.TempDir()), h, u, local
}

func TestPushPopRestoresPreviousRunspace(t *testing.T) {
	m, h, u, local := newTestManager(t)
	remote := &fakeRunspace{id: "remote"}

	assert.False(t, m.IsPushed())
	require.NoError(t, m.Push(context.Background(), remote))
	assert.True(t, m.IsPushed())
	assert.Same(t, remote, h.rs)
	assert.Equal(t, runspace.DebugModeRemoteScript, remote.mode)

	require.NoError(t, m.Pop(context.Background()))
	assert.False(t, m.IsPushed())
	assert.Same(t, local, h.rs)
	assert.Equal(t, []bool{true, false}, u.remote)
}

func TestPushRegistersEditorCommand(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	remote := &fakeRunspace{id: "remote"}
	d := program.DefaultDialect()

	require.NoError(t, m.Push(context.Background(), remote))
	assert.Equal(t, d.OpenFileEvent, remote.source)
	assert.NotNil(t, remote.handler)

	require.NoError(t, m.Pop(context.Background()))
	assert.Nil(t, remote.handler)
	assert.Equal(t, []string{d.RegisterOpenFile, d.UnregisterOpenFile}, remote.scripts)
}

func TestRegistrationFailureIsIgnored(t *testing.T) {
	m, h, u, _ := newTestManager(t)
	remote := &fakeRunspace{id: "remote", invokeErr: errors.New("remote pipeline failed")}

	require.NoError(t, m.Push(context.Background(), remote))
	require.NoError(t, m.Pop(context.Background()))
	assert.Empty(t, h.output)
	assert.Equal(t, []bool{true, false}, u.remote)
}

func TestSecondPushRejected(t *testing.T) {
	m, h, _, _ := newTestManager(t)
	first := &fakeRunspace{id: "first"}
	require.NoError(t, m.Push(context.Background(), first))

	err := m.Push(context.Background(), &fakeRunspace{id: "second"})
	assert.Equal(t, ErrAlreadyPushed, err)
	assert.Same(t, first, h.rs)
}

func TestPopWithoutPush(t *testing.T) {
	m, _, u, _ := newTestManager(t)
	assert.Equal(t, ErrNotPushed, m.Pop(context.Background()))
	assert.Empty(t, u.remote)
}

func TestOpenFileEvent(t *testing.T) {
	m, h, u, _ := newTestManager(t)
	remote := &fakeRunspace{id: "remote"}
	require.NoError(t, m.Push(context.Background(), remote))

	remote.raise(runspace.Event{
		SourceIdentifier: "ScriptDebugger.OpenFile",
		MessageData:      map[string]interface{}{"Path": "/srv/scripts/deploy.ps1"},
	})
	assert.Equal(t, []string{"/srv/scripts/deploy.ps1"}, u.opened)
	assert.Empty(t, h.output)
}

func TestOpenFileEventWithContent(t *testing.T) {
	m, _, u, _ := newTestManager(t)
	remote := &fakeRunspace{id: "remote"}
	require.NoError(t, m.Push(context.Background(), remote))

	remote.raise(runspace.Event{MessageData: map[string]interface{}{
		"Path":    `C:\Scripts\deploy.ps1`,
		"Content": "Write-Output 'hi'",
	}})

	require.Len(t, u.opened, 1)
	assert.Equal(t, "deploy.ps1", filepath.Base(u.opened[0]))
	data, err := os.ReadFile(u.opened[0])
	require.NoError(t, err)
	assert.Equal(t, "Write-Output 'hi'", string(data))
}

func TestOpenFileFailureIsReported(t *testing.T) {
	m, h, u, _ := newTestManager(t)
	u.openErr = errors.New("editor closed")
	remote := &fakeRunspace{id: "remote"}
	require.NoError(t, m.Push(context.Background(), remote))

	remote.raise(runspace.Event{MessageData: map[string]interface{}{"Path": "/x.ps1"}})
	require.Len(t, h.output, 1)
	assert.Contains(t, h.output[0], "editor closed")

	remote.raise(runspace.Event{})
	assert.Len(t, h.output, 2)
}
